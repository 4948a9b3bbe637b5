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

// TxRing is one transmit descriptor ring and its backing packet pool.
type TxRing struct {
	ring

	reclaimCursor int
}

// newTxRing builds a TxRing bound to queue idx's register block. The ring
// is Uninitialized until Init succeeds.
func newTxRing(r regs, idx int, p *pool, sleep func(time.Duration), stats *Stats) *TxRing {
	return &TxRing{ring: newRing(r, txQueueBase, idx, p, sleep, stats)}
}

// Init programs TDBAL/TDBAH/TDLEN, zeroes TDH/TDT, enables the queue and
// polls TXDCTL.ENABLE, per spec §4.3.4.
func (tr *TxRing) Init() error {
	return tr.initCommon(1<<dctlWTHRESHShift | 1<<dctlEnableBit)
}

// DisableQueue clears TXDCTL.ENABLE and moves the ring Enabled -> Disabled.
func (tr *TxRing) DisableQueue() {
	tr.disable()
}

// NewRequest binds the buffer of the slot the next Send will use as a fresh
// ToDevice request. The caller fills Bytes() and passes the request to
// Send.
func (tr *TxRing) NewRequest() *Request {
	return tr.pool.NewRequest(tr.swTail, ToDevice)
}

// Send posts request for transmission, per spec §4.3.5. Fails with
// ErrInvalidParameter if the request's buffer exceeds the ring's packet
// size, or ErrNoMemory if the ring has no free slot.
func (tr *TxRing) Send(req *Request) error {
	if len(req.buf) > tr.pool.pktSize {
		return ErrInvalidParameter
	}

	hwHead := int(tr.regRead(regDH))
	if tr.full(hwHead) {
		return ErrNoMemory
	}

	i := tr.swTail
	tr.pool.prepareForDevice(i)

	d := MakeTxData(req.phys, uint32(len(req.buf)), CmdEOP|CmdIFCS|CmdRS|CmdDEXT)
	tr.pool.setDescAt(i, d)
	tr.meta[i] = req
	tr.swTail = (i + 1) % tr.count
	tr.stats.recordTxSent(len(req.buf))

	barrier()
	tr.regWrite(regDT, uint32(tr.swTail))

	return nil
}

// NextFinished reports the next reclaimable TX request, if any, per spec
// §4.3.6. reclaim_cursor is compared against TDH and the slot's DD bit
// confirms write-back, preserving FIFO order of submissions.
func (tr *TxRing) NextFinished() (*Request, bool) {
	hwHead := int(tr.regRead(regDH))
	if tr.reclaimCursor == hwHead {
		return nil, false
	}

	i := tr.reclaimCursor
	if !ParseTxWBStatus(tr.pool.descAt(i)) {
		return nil, false
	}

	req := tr.meta[i]
	tr.meta[i] = nil
	tr.reclaimCursor = (i + 1) % tr.count
	tr.stats.recordTxReclaimed()

	return req, true
}
