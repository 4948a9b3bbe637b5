// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

// Stats accumulates per-ring counters, in the same shape as
// soc/nxp/enet.Stats: plain exported fields a ring bumps directly as it
// processes descriptors, rather than a hardware statistics-register read
// (out of scope, see SPEC_FULL.md §1).
type Stats struct {
	RxPackets   uint64
	RxBytes     uint64
	RxErrors    uint64
	TxPackets   uint64
	TxBytes     uint64
	TxReclaimed uint64
}

func (s *Stats) recordRx(c RxCompletion) {
	if s == nil {
		return
	}

	s.RxPackets++
	s.RxBytes += uint64(c.PacketLen)

	if c.HasError {
		s.RxErrors++
	}
}

func (s *Stats) recordTxSent(n int) {
	if s == nil {
		return
	}

	s.TxPackets++
	s.TxBytes += uint64(n)
}

func (s *Stats) recordTxReclaimed() {
	if s == nil {
		return
	}

	s.TxReclaimed++
}
