// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

import (
	"encoding/binary"
	"testing"
)

func newTestRxRing(t *testing.T, count, pktSize int) *RxRing {
	t.Helper()

	r := newTestRegs(t, 1<<17)
	region := newTestRegion(t, 1<<20)

	p, err := newPool(region, count, pktSize)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}

	rr := newRxRing(r, 0, p, nil, &Stats{})
	if err := rr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return rr
}

// S2 — Ring-full backpressure, with count=8.
func TestRxRingBackpressure(t *testing.T) {
	rr := newTestRxRing(t, 8, 256)

	for i := 0; i < 7; i++ {
		if err := rr.Submit(rr.NewRequest(i)); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	if err := rr.Submit(rr.NewRequest(7)); err != ErrNoMemory {
		t.Fatalf("8th Submit = %v, want ErrNoMemory", err)
	}

	// Hardware completes slot 0: DD set on its descriptor, and RDH (which
	// tracks how far hardware has advanced) moves past it.
	d := rr.pool.descAt(0)
	markRxDone(&d)
	rr.pool.setDescAt(0, d)
	rr.regWrite(regDH, 1)

	pkt, ok := rr.NextPkt()
	if !ok {
		t.Fatalf("expected a completed packet")
	}
	if pkt.request.phys != rr.pool.slotBufPhys(0) {
		t.Fatalf("completed request phys = %#x, want slot 0's", pkt.request.phys)
	}

	if err := rr.Submit(rr.NewRequest(7)); err != nil {
		t.Fatalf("Submit after reclaim: %v", err)
	}
}

// Invariant 1: the count of non-empty meta[i] equals (sw_tail -
// sw_head_cached) mod count.
func TestRxRingMetaInvariant(t *testing.T) {
	rr := newTestRxRing(t, 8, 256)

	for i := 0; i < 3; i++ {
		if err := rr.Submit(rr.NewRequest(i)); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	outstanding := 0
	for _, m := range rr.meta {
		if m != nil {
			outstanding++
		}
	}

	want := (rr.swTail - rr.headCached + rr.count) % rr.count
	if outstanding != want {
		t.Fatalf("outstanding = %d, want %d", outstanding, want)
	}
}

// Invariant 2: a posted slot's descriptor packet-address bits equal the
// request's physical address.
func TestRxRingDescriptorAddressMatchesRequest(t *testing.T) {
	rr := newTestRxRing(t, 4, 256)

	req := rr.NewRequest(0)
	if err := rr.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	d := rr.pool.descAt(0)
	addr := binary.LittleEndian.Uint64(d[0:8]) &^ uint64(rxNSEMask)

	if want := req.phys &^ uint64(rxNSEMask); addr != want {
		t.Fatalf("descriptor addr = %#x, want %#x", addr, want)
	}
}

func TestRxRingResubmit(t *testing.T) {
	rr := newTestRxRing(t, 4, 256)

	req := rr.NewRequest(0)
	if err := rr.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	d := rr.pool.descAt(0)
	markRxDone(&d)
	rr.pool.setDescAt(0, d)
	rr.regWrite(regDH, 1)

	pkt, ok := rr.NextPkt()
	if !ok {
		t.Fatalf("expected a completed packet")
	}

	if err := pkt.Resubmit(); err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
}

// markRxDone sets the write-back DD bit of an otherwise-unparsed descriptor
// cell, simulating hardware completion in tests.
func markRxDone(d *[DescriptorSize]byte) {
	d[8] |= 0x01
}
