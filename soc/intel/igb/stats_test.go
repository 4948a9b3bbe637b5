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

func TestStatsRecord(t *testing.T) {
	var s Stats

	s.recordRx(RxCompletion{PacketLen: 100})
	s.recordRx(RxCompletion{PacketLen: 60, HasError: true})
	s.recordTxSent(64)
	s.recordTxReclaimed()

	if s.RxPackets != 2 || s.RxBytes != 160 || s.RxErrors != 1 {
		t.Fatalf("rx stats = %+v", s)
	}
	if s.TxPackets != 1 || s.TxBytes != 64 || s.TxReclaimed != 1 {
		t.Fatalf("tx stats = %+v", s)
	}
}

func TestStatsNilSafe(t *testing.T) {
	var s *Stats

	s.recordRx(RxCompletion{})
	s.recordTxSent(10)
	s.recordTxReclaimed()
}
