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

// Per-queue register block offsets from a queue's base (queue_base +
// idx*queueStride). RX and TX queue blocks share this layout.
const (
	regDBAL  = 0x00
	regDBAH  = 0x04
	regDLEN  = 0x08
	regSRRCL = 0x0C // RX only: SRRCTL
	regDH    = 0x10
	regDT    = 0x18
	regDCTL  = 0x28

	rxQueueBase = 0x0C000
	txQueueBase = 0x0E000
	queueStride = 0x40
)

// DCTL (RXDCTL/TXDCTL) field layout, shared by both queue directions.
const (
	dctlPTHRESHShift = 0
	dctlPTHRESHMask  = 0x1F
	dctlHTHRESHShift = 8
	dctlHTHRESHMask  = 0x1F
	dctlWTHRESHShift = 16
	dctlWTHRESHMask  = 0x1F
	dctlEnableBit    = 25
	dctlSWFlushBit   = 26
)

// SRRCTL field layout.
const (
	srrctlBSizePacketShift = 0
	srrctlBSizePacketMask  = 0x7F
	srrctlDescTypeShift    = 25
	srrctlDescTypeMask     = 0x7
	srrctlDescTypeAdvOneBuf = 0b001
)

// queueEnableTimeout and queueEnablePoll bound the RXDCTL/TXDCTL.ENABLE poll
// loop in ring init, per the specification's 1000 attempts at 1 ms.
const (
	queueEnableTimeout = 1000 * time.Millisecond
	queueEnablePoll    = time.Millisecond
)

// ringState models the per-ring lifecycle: Uninitialized -> Enabled ->
// Disabled -> Destroyed. Posting or reclaiming outside Enabled is a
// programming error.
type ringState int

const (
	ringUninitialized ringState = iota
	ringEnabled
	ringDisabled
	ringDestroyed
)

// Direction tags which way a Request's buffer is used by the device.
type Direction int

const (
	// FromDevice is a buffer the device fills (an RX slot).
	FromDevice Direction = iota
	// ToDevice is a buffer the device reads (a TX slot).
	ToDevice
)

// Request binds an owned byte buffer to its DMA physical address. Ownership
// transfers to the ring on Submit/Send and back to the caller when the
// matching completion is observed by NextPkt/NextFinished.
type Request struct {
	buf   []byte
	phys  uint64
	dir   Direction
}

// Bytes is the buffer backing this request.
func (req *Request) Bytes() []byte { return req.buf }

// Phys is the buffer's DMA physical address.
func (req *Request) Phys() uint64 { return req.phys }

// Direction reports whether this request is posted for RX or TX use.
func (req *Request) Direction() Direction { return req.dir }

// ring is the state shared by RxRing and TxRing: one descriptor/packet pool,
// a software tail cursor, per-slot ownership, and a lifecycle. Each queue
// N's register block lives at queueBase + N*queueStride, per the shared
// offset scheme (spec §4.3).
type ring struct {
	r     regs
	base  uint32
	pool  *pool
	count int

	swTail int
	meta   []*Request

	state ringState
	sleep func(time.Duration)
	stats *Stats
}

func newRing(r regs, queueBase uint32, idx int, p *pool, sleep func(time.Duration), stats *Stats) ring {
	return ring{
		r:     r,
		base:  queueBase + uint32(idx)*queueStride,
		pool:  p,
		count: p.count,
		meta:  make([]*Request, p.count),
		state: ringUninitialized,
		sleep: sleep,
		stats: stats,
	}
}

func (rg *ring) regRead(off uint32) uint32  { return rg.r.read(rg.base + off) }
func (rg *ring) regWrite(off uint32, v uint32) { rg.r.write(rg.base+off, v) }

// Count is the number of descriptor slots in the ring.
func (rg *ring) Count() int { return rg.count }

// RequestMaxCount is the number of slots that can hold an outstanding
// request at once, one short of Count per the reserved-slot convention.
func (rg *ring) RequestMaxCount() int { return rg.count - 1 }

// full reports whether the ring has no free slot to post into, given the
// hardware's current head position, per the shared "one slot reserved"
// full/empty convention.
func (rg *ring) full(hwHead int) bool {
	return (rg.swTail+1)%rg.count == hwHead
}

// initCommon programs DBAL/DBAH/DLEN, zeroes DH/DT, enables the queue and
// polls DCTL.ENABLE, shared by RX and TX init (spec §4.3.1, §4.3.4).
func (rg *ring) initCommon(enableVal uint32) error {
	phys := rg.pool.descPhysAddr()

	rg.regWrite(regDBAL, uint32(phys&0xFFFFFFFF))
	rg.regWrite(regDBAH, uint32(phys>>32))
	rg.regWrite(regDLEN, uint32(rg.count*DescriptorSize))

	rg.regWrite(regDH, 0)
	rg.regWrite(regDT, 0)

	rg.regWrite(regDCTL, enableVal)
	barrier()

	ok := wait(queueEnableTimeout, queueEnablePoll, rg.sleep, func() bool {
		return rg.regRead(regDCTL)&(1<<dctlEnableBit) != 0
	})
	if !ok {
		return ErrTimeout
	}

	rg.state = ringEnabled

	return nil
}

// disable clears DCTL.ENABLE and moves the ring Enabled -> Disabled.
func (rg *ring) disable() {
	rg.regWrite(regDCTL, dctlThresholds())
	barrier()
	rg.state = ringDisabled
}

func dctlThresholds() uint32 {
	return 8<<dctlPTHRESHShift | 8<<dctlHTHRESHShift | 1<<dctlWTHRESHShift
}

func dctlEnableVal() uint32 {
	return dctlThresholds() | 1<<dctlEnableBit
}
