// Intel Peripheral Component Interconnect (PCI) driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pci

import "testing"

// S7 — a 64-bit memory BAR decodes correctly from two consecutive 32-bit
// config reads.
func TestDecodeBAR64(t *testing.T) {
	// Type bits 0b10 (64-bit, non-prefetchable), address 0x00000001FEC00000.
	low := uint32(0xFEC00000) | 0b100
	high := uint32(0x00000001)

	got := decodeBAR(low, func() uint32 { return high })
	want := uint(0x1FEC00000)

	if got != want {
		t.Fatalf("decodeBAR = %#x, want %#x", got, want)
	}
}

func TestDecodeBAR32(t *testing.T) {
	low := uint32(0xF0000000) // type bits 0b00

	called := false
	got := decodeBAR(low, func() uint32 { called = true; return 0xFFFFFFFF })

	if called {
		t.Fatalf("high() must not be called for a 32-bit BAR")
	}
	if got != uint(0xF0000000) {
		t.Fatalf("decodeBAR = %#x, want %#x", got, uint(0xF0000000))
	}
}

func TestDecodeBARReservedType(t *testing.T) {
	low := uint32(0b01 << 1) // type bits 0b01: reserved, unhandled by decodeBAR

	if got := decodeBAR(low, func() uint32 { return 0 }); got != 0 {
		t.Fatalf("decodeBAR(reserved type) = %#x, want 0", got)
	}
}
