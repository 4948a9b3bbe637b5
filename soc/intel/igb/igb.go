// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package igb is a bare-metal driver for the Intel 82576 gigabit Ethernet
// controller family (PCI vendor 0x8086, devices 0x10C9/0x1533). It brings
// the device from reset to link-up and drives one RX and one TX descriptor
// ring at queue 0.
package igb

import (
	"time"

	"github.com/vfio-go/igb82576/dma"
	"github.com/vfio-go/igb82576/soc/intel/pci"
)

// DefaultRingSize is the descriptor ring size used when Config.RingSize is
// left zero.
const DefaultRingSize = 256

// DefaultPacketSize is the per-slot packet buffer size used when
// Config.PacketSize is left zero.
const DefaultPacketSize = 2048

// VendorID is the PCI vendor ID this driver matches.
const VendorID = 0x8086

// DeviceIDs are the PCI device IDs this driver matches.
var DeviceIDs = [2]uint16{0x10C9, 0x1533}

// CheckVidDid reports whether vid/did identify a supported 82576-family
// device.
func CheckVidDid(vid, did uint16) bool {
	if vid != VendorID {
		return false
	}

	for _, d := range DeviceIDs {
		if d == did {
			return true
		}
	}

	return false
}

// Config describes one controller instance. MMIOBase and Region are
// required; RingSize and PacketSize default to DefaultRingSize and
// DefaultPacketSize.
type Config struct {
	// MMIOBase is the virtual/host address the device's BAR0 region is
	// mapped at.
	MMIOBase uint64

	// Region is the DMA-coherent region descriptor and packet pools are
	// allocated from.
	Region *dma.Region

	// RingSize is the descriptor count for both the RX and TX ring.
	RingSize int

	// PacketSize is the per-slot packet buffer size.
	PacketSize int

	// Device is the bare-metal PCI device handle, when available. Open
	// walks Device.Capabilities() looking for an MSI-X capability (ID
	// 0x11) and, if found, configures multi-vector MSI-X delivery
	// instead of the legacy single-vector INTx path (spec §4.6/§4.7).
	// Nil on backends (e.g. hostpci) that do not expose a *pci.Device.
	Device *pci.Device

	// MSIXCapable is consulted in Device's place when Device is nil: set
	// it from the hosted backend's own capability walk (hostpci.HasMSIX)
	// to get the same MSI-X/legacy decision without a *pci.Device.
	MSIXCapable bool

	// Sleep is invoked between poll attempts in blocking operations
	// (reset, queue enable, MDIO, auto-negotiation). A nil value yields
	// to the scheduler instead of sleeping.
	Sleep func(time.Duration)
}

// Igb owns one MAC and one PHY, per spec §4.6.
type Igb struct {
	mac  *Mac
	phy  *Phy
	regs regs

	region      *dma.Region
	ringSize    int
	packetSize  int
	device      *pci.Device
	msixCapable bool
	sleep       func(time.Duration)

	Stats Stats

	Rx *RxRing
	Tx *TxRing
}

// New builds an Igb instance bound to cfg. It does not touch the device;
// call Open to bring it up.
func New(cfg Config) *Igb {
	if cfg.MMIOBase == 0 || cfg.Region == nil {
		panic("invalid igb controller configuration")
	}

	ringSize := cfg.RingSize
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}

	packetSize := cfg.PacketSize
	if packetSize == 0 {
		packetSize = DefaultPacketSize
	}

	r := regs{base: cfg.MMIOBase}
	mac := newMac(r, cfg.Sleep)

	return &Igb{
		mac:         mac,
		phy:         newPhy(mac),
		regs:        r,
		region:      cfg.Region,
		ringSize:    ringSize,
		packetSize:  packetSize,
		device:      cfg.Device,
		msixCapable: cfg.MSIXCapable,
		sleep:       cfg.Sleep,
	}
}

// Open brings the device from reset to link-up, per spec §4.6: disable
// interrupts; reset the MAC; re-disable interrupts (reset re-arms them);
// read the link mode; power up and auto-negotiate the PHY; raise link;
// wait for auto-negotiation; configure flow control (reserved, currently a
// no-op); select MSI-X or legacy interrupt mode; enable interrupts; enable
// RX and TX.
func (d *Igb) Open() error {
	d.mac.DisableInterrupts()

	if err := d.mac.Reset(); err != nil {
		return err
	}

	d.mac.DisableInterrupts()

	_ = d.mac.LinkMode()

	if err := d.phy.PowerUp(); err != nil {
		return err
	}

	if err := d.phy.EnableAutoNegotiation(); err != nil {
		return err
	}

	d.mac.SetLinkUp()

	if err := d.phy.WaitForAutoNegotiationComplete(); err != nil {
		return err
	}

	d.configureFlowControl()

	d.Stats = Stats{}

	if d.hasMSIX() {
		d.mac.ConfigureMSIXMode()
	} else {
		d.mac.ConfigureLegacyMode()
	}

	d.mac.EnableInterrupts()
	d.mac.EnableRx()
	d.mac.EnableTx()

	return nil
}

// configureFlowControl is the reserved hook for post-link-up pause-frame
// configuration. Left unimplemented (Open Question 1, SPEC_FULL.md §9):
// this driver does not program flow control.
func (d *Igb) configureFlowControl() {}

// hasMSIX walks Device's PCI Capabilities List looking for an MSI-X entry
// (ID 0x11), per spec §4.6/§4.7. When Device is nil (a backend with no
// *pci.Device, e.g. hostpci), MSIXCapable stands in for the same decision.
func (d *Igb) hasMSIX() bool {
	if d.device == nil {
		return d.msixCapable
	}

	for _, hdr := range d.device.Capabilities() {
		if hdr.Vendor == pci.MSIX {
			return true
		}
	}

	return false
}

// NewRings allocates and initializes queue 0's RX and TX rings from the
// configured DMA region, each with its own descriptor/packet pool.
func (d *Igb) NewRings() (*RxRing, *TxRing, error) {
	rxPool, err := newPool(d.region, d.ringSize, d.packetSize)
	if err != nil {
		return nil, nil, err
	}

	rx := newRxRing(d.regs, 0, rxPool, d.sleep, &d.Stats)
	if err := rx.Init(); err != nil {
		return nil, nil, err
	}

	txPool, err := newPool(d.region, d.ringSize, d.packetSize)
	if err != nil {
		return nil, nil, err
	}

	tx := newTxRing(d.regs, 0, txPool, d.sleep, &d.Stats)
	if err := tx.Init(); err != nil {
		return nil, nil, err
	}

	d.Rx, d.Tx = rx, tx

	return rx, tx, nil
}

// ReadMAC returns the station address programmed in RAL[0]/RAH[0].
func (d *Igb) ReadMAC() [6]byte {
	return d.mac.ReadMAC()
}

// EnableLoopback enables internal MAC loopback.
func (d *Igb) EnableLoopback() {
	d.mac.EnableLoopback()
}

// DisableLoopback disables internal MAC loopback.
func (d *Igb) DisableLoopback() {
	d.mac.DisableLoopback()
}

// ConfigureLegacyMode switches the controller to single-vector legacy
// interrupt delivery.
func (d *Igb) ConfigureLegacyMode() {
	d.mac.ConfigureLegacyMode()
}

// ConfigureMSIXMode switches the controller to multi-vector MSI-X
// interrupt delivery.
func (d *Igb) ConfigureMSIXMode() {
	d.mac.ConfigureMSIXMode()
}

// HandleInterrupt acknowledges the interrupt cause and returns it for the
// caller to dispatch to the appropriate ring. Per the concurrency model
// (spec §5), this performs only the cause read/ack; it never blocks.
func (d *Igb) HandleInterrupt() InterruptCause {
	return d.mac.InterruptsAck()
}

// HandleLegacyInterrupt is HandleInterrupt's non-MSI-X counterpart.
func (d *Igb) HandleLegacyInterrupt() LegacyInterruptCause {
	return d.mac.LegacyInterruptsAck()
}
