// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

import "time"

// MMIO register offsets from BAR0 base (spec §6).
const (
	regCTRL    = 0x00000
	regSTATUS  = 0x00008
	regCTRLEXT = 0x00018
	regMDIC    = 0x00020
	regICR     = 0x000C0
	regIMS     = 0x000D0
	regIMC     = 0x000D8
	regRCTL    = 0x00100
	regTCTL    = 0x00400
	regGPIE    = 0x01514
	regEIMS    = 0x01524
	regEIMC    = 0x01528
	regEIAC    = 0x0152C
	regEIAM    = 0x01530
	regEICR    = 0x01580
	regRAL0    = 0x05400
	regRAH0    = 0x05404
)

// CTRL field layout.
const (
	ctrlFDBit      = 0
	ctrlSLUBit     = 6
	ctrlSpeedShift = 8
	ctrlSpeedMask  = 0x3
	ctrlFRCSPDBit  = 11
	ctrlFRCDPLXBit = 12
	ctrlRSTBit     = 26
	ctrlPHYRSTBit  = 31
)

// STATUS field layout.
const (
	statusFDBit      = 0
	statusLUBit      = 1
	statusSpeedShift = 6
	statusSpeedMask  = 0x3
	statusPHYRABit   = 10
)

// CTRL_EXT field layout.
const (
	ctrlExtLinkModeShift = 22
	ctrlExtLinkModeMask  = 0x3
)

// RCTL field layout.
const (
	rctlRXENBit    = 1
	rctlUPEBit     = 3
	rctlMPEBit     = 4
	rctlLPEBit     = 5
	rctlLBMShift   = 6
	rctlLBMMask    = 0x3
	rctlBSizeShift = 16
	rctlBSizeMask  = 0x3
	rctlBAMBit     = 15
	rctlSECRCBit   = 26

	rctlLBMNormal = 0b00
	rctlLBMMac    = 0b01
)

// TCTL field layout.
const (
	tctlENBit     = 1
	tctlPSPBit    = 3
	tctlCTShift   = 4
	tctlCTMask    = 0xFF
	tctlCOLDShift = 12
	tctlCOLDMask  = 0x3FF
)

// GPIE field layout.
const (
	gpieNSICRBit        = 0
	gpieMultipleMSIXBit = 4
	gpieEIAMEBit        = 30
	gpiePBASupportBit   = 31
)

// Legacy ICR/IMS/IMC bit layout.
const (
	icrTXDW         = 1 << 0
	icrTXQE         = 1 << 1
	icrLSC          = 1 << 2
	icrRXSEQ        = 1 << 3
	icrRXDMT0       = 1 << 4
	icrRXO          = 1 << 6
	icrRXT0         = 1 << 7
	icrMDAC         = 1 << 9
	icrRXCFG        = 1 << 10
	icrIntAsserted  = 1 << 31
)

// EICR/EIMS extended-interrupt field layout.
const (
	eicrQueueMask    = 0xFFFF
	eicrTCPTimerBit  = 30
	eicrOtherBit     = 31
)

// MDIC field layout.
const (
	mdicDataShift    = 0
	mdicDataMask     = 0xFFFF
	mdicRegAddrShift = 16
	mdicRegAddrMask  = 0x1F
	mdicPhyAddrShift = 21
	mdicPhyAddrMask  = 0x1F
	mdicOpShift      = 26
	mdicOpMask       = 0x3
	mdicReadyBit     = 28
	mdicErrorBit     = 30

	mdicOpWrite = 0b01
	mdicOpRead  = 0b10
)

const (
	mdicTimeout = 1000 * time.Millisecond
	mdicPoll    = time.Millisecond

	resetTimeout = 1000 * time.Millisecond
	resetPoll    = time.Millisecond
)

// LinkMode is CTRL_EXT.LINK_MODE.
type LinkMode int

const (
	DirectCopper LinkMode = iota
	SGMII
	_ // reserved encoding
	InternalSerdes
)

// InterruptCause is the decoded result of an MSI-X mode interrupts_ack.
type InterruptCause struct {
	QueueIdx uint16
	TCPTimer bool
	Other    bool
}

// LegacyInterruptCause is the decoded result of legacy_interrupts_ack.
type LegacyInterruptCause struct {
	TXDW, TXQE, LSC, RXSEQ, RXDMT0, RXO, RXT0, MDAC, RXCFG, IntAsserted bool
}

// Mac is a typed view over the 82576's MMIO register space, per spec §4.4.
type Mac struct {
	r     regs
	sleep func(time.Duration)
}

func newMac(r regs, sleep func(time.Duration)) *Mac {
	return &Mac{r: r, sleep: sleep}
}

// Reset sets CTRL.RST and CTRL.PHY_RST and polls for RST to self-clear.
func (m *Mac) Reset() error {
	m.r.setBit(regCTRL, ctrlRSTBit)
	m.r.setBit(regCTRL, ctrlPHYRSTBit)
	barrier()

	ok := wait(resetTimeout, resetPoll, m.sleep, func() bool {
		return !m.r.getBit(regCTRL, ctrlRSTBit)
	})
	if !ok {
		return ErrTimeout
	}

	return nil
}

// DisableInterrupts masks every interrupt cause and clears EICR by reading
// it.
func (m *Mac) DisableInterrupts() {
	m.r.write(regEIMC, 0xFFFFFFFF)
	m.r.read(regEICR)
}

// EnableInterrupts unmasks every interrupt cause.
func (m *Mac) EnableInterrupts() {
	m.r.write(regEIMS, 0xFFFFFFFF)
}

// InterruptsAck reads EICR & EIMS and decodes it for MSI-X mode.
func (m *Mac) InterruptsAck() InterruptCause {
	v := m.r.read(regEICR) & m.r.read(regEIMS)

	return InterruptCause{
		QueueIdx: uint16(v & eicrQueueMask),
		TCPTimer: v&(1<<eicrTCPTimerBit) != 0,
		Other:    v&(1<<eicrOtherBit) != 0,
	}
}

// LegacyInterruptsAck reads and decodes ICR for non-MSI-X mode. Reading ICR
// clears the RW1C cause bits.
func (m *Mac) LegacyInterruptsAck() LegacyInterruptCause {
	v := m.r.read(regICR)

	return LegacyInterruptCause{
		TXDW:         v&icrTXDW != 0,
		TXQE:         v&icrTXQE != 0,
		LSC:          v&icrLSC != 0,
		RXSEQ:        v&icrRXSEQ != 0,
		RXDMT0:       v&icrRXDMT0 != 0,
		RXO:          v&icrRXO != 0,
		RXT0:         v&icrRXT0 != 0,
		MDAC:         v&icrMDAC != 0,
		RXCFG:        v&icrRXCFG != 0,
		IntAsserted:  v&icrIntAsserted != 0,
	}
}

// ConfigureMSIXMode programs GPIE for multiple-vector MSI-X operation.
func (m *Mac) ConfigureMSIXMode() {
	m.r.setBit(regGPIE, gpieMultipleMSIXBit)
	m.r.setBit(regGPIE, gpieEIAMEBit)
	m.r.setBit(regGPIE, gpiePBASupportBit)
}

// ConfigureLegacyMode programs GPIE for legacy/single-vector operation.
func (m *Mac) ConfigureLegacyMode() {
	m.r.clearBit(regGPIE, gpieMultipleMSIXBit)
	m.r.clearBit(regGPIE, gpieEIAMEBit)
	m.r.clearBit(regGPIE, gpiePBASupportBit)
}

// LinkMode reads CTRL_EXT.LINK_MODE.
func (m *Mac) LinkMode() LinkMode {
	return LinkMode(m.r.getN(regCTRLEXT, ctrlExtLinkModeShift, ctrlExtLinkModeMask))
}

// SetLinkUp sets CTRL.SLU and CTRL.FD.
func (m *Mac) SetLinkUp() {
	m.r.setBit(regCTRL, ctrlSLUBit)
	m.r.setBit(regCTRL, ctrlFDBit)
	barrier()
}

// EnableRx sets RCTL.RXEN.
func (m *Mac) EnableRx() {
	m.r.setBit(regRCTL, rctlRXENBit)
	barrier()
}

// DisableRx clears RCTL.RXEN.
func (m *Mac) DisableRx() {
	m.r.clearBit(regRCTL, rctlRXENBit)
	barrier()
}

// EnableTx sets TCTL.EN.
func (m *Mac) EnableTx() {
	m.r.setBit(regTCTL, tctlENBit)
	barrier()
}

// EnableLoopback sets RCTL.LBM to the internal MAC loopback encoding.
func (m *Mac) EnableLoopback() {
	m.r.setN(regRCTL, rctlLBMShift, rctlLBMMask, rctlLBMMac)
	barrier()
}

// DisableLoopback sets RCTL.LBM back to normal operation.
func (m *Mac) DisableLoopback() {
	m.r.setN(regRCTL, rctlLBMShift, rctlLBMMask, rctlLBMNormal)
	barrier()
}

// ReadMAC returns the station address from RAL[0]/RAH[0].
func (m *Mac) ReadMAC() [6]byte {
	lo := m.r.read(regRAL0)
	hi := m.r.read(regRAH0)

	return [6]byte{
		byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24),
		byte(hi), byte(hi >> 8),
	}
}

func mdicFrame(phyAddr, reg int, op uint32, data uint16) uint32 {
	return uint32(data)<<mdicDataShift |
		uint32(reg&mdicRegAddrMask)<<mdicRegAddrShift |
		uint32(phyAddr&mdicPhyAddrMask)<<mdicPhyAddrShift |
		op<<mdicOpShift
}

// ReadMDIC issues an MDIO read transaction to phyAddr/reg and returns the
// 16-bit result.
func (m *Mac) ReadMDIC(phyAddr, reg int) (uint16, error) {
	m.r.write(regMDIC, mdicFrame(phyAddr, reg, mdicOpRead, 0))
	barrier()

	if !wait(mdicTimeout, mdicPoll, m.sleep, func() bool { return m.r.getBit(regMDIC, mdicReadyBit) }) {
		return 0, ErrTimeout
	}

	v := m.r.read(regMDIC)
	if v&(1<<mdicErrorBit) != 0 {
		return 0, Unknown("MDIC read error")
	}

	return uint16(v & mdicDataMask), nil
}

// WriteMDIC issues an MDIO write transaction of data to phyAddr/reg.
func (m *Mac) WriteMDIC(phyAddr, reg int, data uint16) error {
	m.r.write(regMDIC, mdicFrame(phyAddr, reg, mdicOpWrite, data))
	barrier()

	if !wait(mdicTimeout, mdicPoll, m.sleep, func() bool { return m.r.getBit(regMDIC, mdicReadyBit) }) {
		return ErrTimeout
	}

	v := m.r.read(regMDIC)
	if v&(1<<mdicErrorBit) != 0 {
		return Unknown("MDIC write error")
	}

	return nil
}
