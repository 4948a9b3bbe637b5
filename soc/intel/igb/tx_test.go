// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

import "testing"

func newTestTxRing(t *testing.T, count, pktSize int) *TxRing {
	t.Helper()

	r := newTestRegs(t, 1<<17)
	region := newTestRegion(t, 1<<20)

	p, err := newPool(region, count, pktSize)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}

	tr := newTxRing(r, 0, p, nil, &Stats{})
	if err := tr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return tr
}

// Boundary: send with len == pkt_size succeeds; len == pkt_size+1 fails
// with ErrInvalidParameter.
func TestTxRingSendLengthBoundary(t *testing.T) {
	tr := newTestTxRing(t, 8, 64)

	req := tr.NewRequest()
	if err := tr.Send(req); err != nil {
		t.Fatalf("Send at exact pkt_size: %v", err)
	}

	oversized := &Request{buf: make([]byte, 65), phys: tr.pool.slotBufPhys(1), dir: ToDevice}
	if err := tr.Send(oversized); err != ErrInvalidParameter {
		t.Fatalf("Send oversized = %v, want ErrInvalidParameter", err)
	}
}

// Invariant 4 / S1-style: send followed by a simulated completion yields
// next_finished returning the same request, FIFO.
func TestTxRingSendAndReclaimFIFO(t *testing.T) {
	tr := newTestTxRing(t, 8, 64)

	var sent []*Request
	for i := 0; i < 3; i++ {
		req := tr.NewRequest()
		sent = append(sent, req)
		if err := tr.Send(req); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	// No completions yet.
	if _, ok := tr.NextFinished(); ok {
		t.Fatalf("expected no finished requests yet")
	}

	// Hardware completes all three in order.
	for i := 0; i < 3; i++ {
		d := tr.pool.descAt(i)
		d[12] |= txStatusDD
		tr.pool.setDescAt(i, d)
	}
	tr.regWrite(regDH, 3)

	for i, want := range sent {
		got, ok := tr.NextFinished()
		if !ok {
			t.Fatalf("NextFinished(%d): expected a request", i)
		}
		if got != want {
			t.Fatalf("NextFinished(%d) = %p, want %p (FIFO order)", i, got, want)
		}
	}

	if _, ok := tr.NextFinished(); ok {
		t.Fatalf("expected no further finished requests")
	}
}

func TestTxRingFullBackpressure(t *testing.T) {
	tr := newTestTxRing(t, 4, 64)

	for i := 0; i < 3; i++ {
		if err := tr.Send(tr.NewRequest()); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	if err := tr.Send(tr.NewRequest()); err != ErrNoMemory {
		t.Fatalf("4th Send = %v, want ErrNoMemory", err)
	}
}
