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
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

// newTestRegs backs a regs window with a real Go-allocated buffer, zeroed,
// large enough to cover both queue register blocks used by these tests.
func newTestRegs(t *testing.T, size int) regs {
	t.Helper()

	mem := make([]byte, size)
	base := uint64(uintptr(unsafe.Pointer(&mem[0])))

	t.Cleanup(func() {
		mem[0] = mem[0]
	})

	return regs{base: base}
}

func TestWaitTimesOut(t *testing.T) {
	start := time.Now()

	ok := wait(50*time.Millisecond, 5*time.Millisecond, time.Sleep, func() bool { return false })
	if ok {
		t.Fatalf("expected timeout")
	}

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned after %v, want at least the timeout", elapsed)
	}
}

// S6 — Queue enable poll: a condition that becomes true partway through the
// poll budget succeeds within that budget.
func TestWaitSucceedsWithinBudget(t *testing.T) {
	var ready int32

	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&ready, 1)
	}()

	start := time.Now()
	ok := wait(600*time.Millisecond, 5*time.Millisecond, time.Sleep, func() bool {
		return atomic.LoadInt32(&ready) == 1
	})

	if !ok {
		t.Fatalf("expected success")
	}

	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Fatalf("took %v, want within the 600ms budget", elapsed)
	}
}

func TestRingInitEnablesQueue(t *testing.T) {
	r := newTestRegs(t, 1<<17)
	region := newTestRegion(t, 1<<20)

	p, err := newPool(region, 8, 256)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}

	rr := newRxRing(r, 0, p, nil, nil)

	if err := rr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if rr.state != ringEnabled {
		t.Fatalf("state = %v, want ringEnabled", rr.state)
	}

	if got := rr.regRead(regDCTL) & (1 << dctlEnableBit); got == 0 {
		t.Fatalf("RXDCTL.ENABLE not set after Init")
	}

	rr.DisableQueue()

	if rr.state != ringDisabled {
		t.Fatalf("state = %v, want ringDisabled", rr.state)
	}

	if got := rr.regRead(regDCTL) & (1 << dctlEnableBit); got != 0 {
		t.Fatalf("RXDCTL.ENABLE still set after DisableQueue")
	}
}
