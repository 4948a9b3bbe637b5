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

// phyAddress is the PHY's MDIO bus address; the 82576's internal/attached
// copper PHY responds at address 1.
const phyAddress = 1

// IEEE 802.3 clause 22 register numbers, named per the specification's
// PCTRL/PSTATUS terms (MII control/status).
const (
	pctrlReg   = 0
	pstatusReg = 1
)

// PCTRL (MII control register) field layout.
const (
	pctrlSpeedLSBBit    = 13
	pctrlAutoNegEnBit   = 12
	pctrlPowerDownBit   = 11
	pctrlRestartANBit   = 9
	pctrlDuplexBit      = 8
	pctrlSpeedMSBBit    = 6
	pctrlResetBit       = 15
)

// PSTATUS (MII status register) field layout.
const (
	pstatusLinkStatusBit     = 2
	pstatusAutoNegCompleteBit = 5
)

const (
	autoNegTimeout = 30 * 100 * time.Millisecond
	autoNegPoll    = 100 * time.Millisecond
)

// Phy wraps MDIO transactions to the PHY at phyAddress through a Mac, per
// spec §4.5.
type Phy struct {
	mac *Mac
}

func newPhy(mac *Mac) *Phy {
	return &Phy{mac: mac}
}

func (p *Phy) readReg(reg int) (uint16, error) {
	return p.mac.ReadMDIC(phyAddress, reg)
}

func (p *Phy) writeReg(reg int, v uint16) error {
	return p.mac.WriteMDIC(phyAddress, reg, v)
}

// PowerUp clears PCTRL.POWER_DOWN.
func (p *Phy) PowerUp() error {
	v, err := p.readReg(pctrlReg)
	if err != nil {
		return err
	}

	v &^= 1 << pctrlPowerDownBit

	return p.writeReg(pctrlReg, v)
}

// EnableAutoNegotiation sets PCTRL.AUTO_NEGOTIATION_ENABLE and
// PCTRL.RESTART_AUTO_NEGOTIATION.
func (p *Phy) EnableAutoNegotiation() error {
	v, err := p.readReg(pctrlReg)
	if err != nil {
		return err
	}

	v |= 1<<pctrlAutoNegEnBit | 1<<pctrlRestartANBit

	return p.writeReg(pctrlReg, v)
}

// WaitForAutoNegotiationComplete polls PSTATUS.AUTO_NEGOTIATION_COMPLETE,
// 100ms x 30 tries.
func (p *Phy) WaitForAutoNegotiationComplete() error {
	ok := wait(autoNegTimeout, autoNegPoll, p.mac.sleep, func() bool {
		v, err := p.readReg(pstatusReg)
		return err == nil && v&(1<<pstatusAutoNegCompleteBit) != 0
	})
	if !ok {
		return ErrTimeout
	}

	return nil
}

// ReadStatus returns the raw PSTATUS register value.
func (p *Phy) ReadStatus() (uint16, error) {
	return p.readReg(pstatusReg)
}

// IsLinkUp reports PSTATUS's link-status bit.
func (p *Phy) IsLinkUp() (bool, error) {
	v, err := p.readReg(pstatusReg)
	if err != nil {
		return false, err
	}

	return v&(1<<pstatusLinkStatusBit) != 0, nil
}

// Reset sets PCTRL's reset bit and polls for it to self-clear.
func (p *Phy) Reset() error {
	v, err := p.readReg(pctrlReg)
	if err != nil {
		return err
	}

	if err := p.writeReg(pctrlReg, v|1<<pctrlResetBit); err != nil {
		return err
	}

	ok := wait(resetTimeout, resetPoll, p.mac.sleep, func() bool {
		v, err := p.readReg(pctrlReg)
		return err == nil && v&(1<<pctrlResetBit) == 0
	})
	if !ok {
		return ErrTimeout
	}

	return nil
}

// SetSpeedAndDuplex programs PCTRL's speed-select bits and duplex bit. The
// 2-bit speed encoding is {10=1000, 01=100, 00=10, 11=reserved}; requesting
// both speed_1000 and speed_100 fails with ErrInvalidParameter.
func (p *Phy) SetSpeedAndDuplex(speed1000, speed100, fullDuplex bool) error {
	if speed1000 && speed100 {
		return ErrInvalidParameter
	}

	v, err := p.readReg(pctrlReg)
	if err != nil {
		return err
	}

	v &^= 1<<pctrlSpeedMSBBit | 1<<pctrlSpeedLSBBit | 1<<pctrlDuplexBit

	switch {
	case speed1000:
		v |= 1 << pctrlSpeedMSBBit
	case speed100:
		v |= 1 << pctrlSpeedLSBBit
	}

	if fullDuplex {
		v |= 1 << pctrlDuplexBit
	}

	return p.writeReg(pctrlReg, v)
}
