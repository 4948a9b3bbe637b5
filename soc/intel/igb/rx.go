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

// RxRing is one receive descriptor ring and its backing packet pool.
type RxRing struct {
	ring

	headCached int
}

// newRxRing builds an RxRing bound to queue idx's register block. The ring
// is Uninitialized until Init succeeds.
func newRxRing(r regs, idx int, p *pool, sleep func(time.Duration), stats *Stats) *RxRing {
	return &RxRing{ring: newRing(r, rxQueueBase, idx, p, sleep, stats)}
}

// Init programs RDBAL/RDBAH/RDLEN/SRRCTL, zeroes RDH/RDT, enables the queue
// and polls RXDCTL.ENABLE, per spec §4.3.1. On success the ring moves
// Uninitialized -> Enabled and the caller may start posting buffers.
func (rr *RxRing) Init() error {
	srrctl := uint32(rr.pool.pktSize/1024)<<srrctlBSizePacketShift |
		srrctlDescTypeAdvOneBuf<<srrctlDescTypeShift

	rr.regWrite(regSRRCL, srrctl)

	return rr.initCommon(dctlEnableVal())
}

// DisableQueue clears RXDCTL.ENABLE and moves the ring Enabled -> Disabled.
func (rr *RxRing) DisableQueue() {
	rr.disable()
}

// NewRequest binds slot i's pool buffer as a fresh FromDevice request. The
// caller posts it with Submit; a completed packet's Resubmit reuses the
// same binding.
func (rr *RxRing) NewRequest(i int) *Request {
	return rr.pool.NewRequest(i, FromDevice)
}

// Submit posts request as a fresh RX buffer at the current software tail,
// per spec §4.3.2. Fails with ErrNoMemory if the ring has no free slot.
func (rr *RxRing) Submit(req *Request) error {
	hwHead := int(rr.regRead(regDH))
	if rr.full(hwHead) {
		return ErrNoMemory
	}

	i := rr.swTail

	rr.pool.setDescAt(i, MakeRxRead(req.phys, 0, false))
	rr.meta[i] = req
	rr.swTail = (i + 1) % rr.count

	barrier()
	rr.regWrite(regDT, uint32(rr.swTail))

	return nil
}

// RxPacket is a completed RX descriptor's parsed view over its posted
// request's buffer.
type RxPacket struct {
	ring    *RxRing
	request *Request

	Completion RxCompletion
	Bytes      []byte
}

// Resubmit hands the packet's buffer back to the ring as a fresh RX post,
// reusing the same buffer and physical address. It is posted at the ring's
// current software tail, which need not be the slot it completed from.
func (pkt *RxPacket) Resubmit() error {
	return pkt.ring.Submit(pkt.request)
}

// NextPkt reports the next completed RX descriptor, if any, per spec
// §4.3.3. The slot's cached head cursor is first compared against the
// hardware head (RDH) as a cheap pre-check, then the slot's DD bit is read
// to confirm write-back actually happened.
func (rr *RxRing) NextPkt() (*RxPacket, bool) {
	hwHead := int(rr.regRead(regDH))
	if rr.headCached == hwHead {
		return nil, false
	}

	i := rr.headCached

	c := ParseRxWB(rr.pool.descAt(i))
	if !c.Done {
		return nil, false
	}

	rr.pool.prepareForCPU(i)

	req := rr.meta[i]
	rr.meta[i] = nil
	rr.headCached = (i + 1) % rr.count
	rr.stats.recordRx(c)

	return &RxPacket{
		ring:       rr,
		request:    req,
		Completion: c,
		Bytes:      req.buf[:c.PacketLen],
	}, true
}
