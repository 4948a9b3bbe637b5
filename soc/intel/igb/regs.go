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
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// regs is a 32-bit MMIO register window addressed by a 64-bit base, in the
// style of internal/reg's atomic-backed accessors but generalized to a
// 64-bit base address: unlike the on-chip peripherals internal/reg was
// written for, a PCIe BAR is not guaranteed to sit below the 4 GiB line on
// an amd64 host.
type regs struct {
	base uint64
}

func (r regs) addr(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(r.base + uint64(off))))
}

// read returns the current value of the register at off.
func (r regs) read(off uint32) uint32 {
	return atomic.LoadUint32(r.addr(off))
}

// write stores val to the register at off.
func (r regs) write(off uint32, val uint32) {
	atomic.StoreUint32(r.addr(off), val)
}

// setBit sets a single bit of the register at off.
func (r regs) setBit(off uint32, pos int) {
	p := r.addr(off)
	v := atomic.LoadUint32(p)
	v |= 1 << uint(pos)
	atomic.StoreUint32(p, v)
}

// clearBit clears a single bit of the register at off.
func (r regs) clearBit(off uint32, pos int) {
	p := r.addr(off)
	v := atomic.LoadUint32(p)
	v &^= 1 << uint(pos)
	atomic.StoreUint32(p, v)
}

// getBit returns whether a single bit of the register at off is set.
func (r regs) getBit(off uint32, pos int) bool {
	return (r.read(off)>>uint(pos))&1 == 1
}

// getN returns the bitfield of width implied by mask starting at pos.
func (r regs) getN(off uint32, pos int, mask uint32) uint32 {
	return (r.read(off) >> uint(pos)) & mask
}

// setN writes val into the bitfield of width implied by mask starting at
// pos, leaving the rest of the register unchanged.
func (r regs) setN(off uint32, pos int, mask uint32, val uint32) {
	p := r.addr(off)
	v := atomic.LoadUint32(p)
	v = (v &^ (mask << uint(pos))) | ((val & mask) << uint(pos))
	atomic.StoreUint32(p, v)
}

// barrier orders all preceding register and DMA-visible buffer writes
// before any subsequent observable action, matching the "store-barrier
// before tail/control writes" requirement throughout the ring engine and
// MAC register interface.
func barrier() {
	atomic.StoreUint32(new(uint32), 0)
}

// wait polls getter at the package's standard tamago-compatible cadence
// until it returns true or the timeout expires.
func wait(timeout time.Duration, interval time.Duration, sleep func(time.Duration), getter func() bool) bool {
	deadline := time.Now().Add(timeout)

	for !getter() {
		if sleep != nil {
			sleep(interval)
		} else {
			runtime.Gosched()
		}

		if time.Now().After(deadline) {
			return getter()
		}
	}

	return true
}
