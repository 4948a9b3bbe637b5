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
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

// fakePhyModel answers MDIC transactions the way an attached PHY would:
// reads return the last value written to that register number, writes
// store it. It runs as a single goroutine so MDIC's "one outstanding
// transaction" serialization (spec §5) holds.
type fakePhyModel struct {
	mu      sync.Mutex
	pctrl   uint16
	pstatus uint16
}

func (m *fakePhyModel) setPstatusBit(bit int) {
	m.mu.Lock()
	m.pstatus |= 1 << uint(bit)
	m.mu.Unlock()
}

func startFakePhy(t *testing.T, r regs) *fakePhyModel {
	t.Helper()

	model := &fakePhyModel{}
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}

			v := r.read(regMDIC)
			ready := v&(1<<mdicReadyBit) != 0
			op := (v >> mdicOpShift) & mdicOpMask

			if op == 0 || ready {
				time.Sleep(time.Millisecond)
				continue
			}

			reg := int((v >> mdicRegAddrShift) & mdicRegAddrMask)

			model.mu.Lock()
			switch op {
			case mdicOpRead:
				var data uint16
				if reg == pctrlReg {
					data = model.pctrl
				} else if reg == pstatusReg {
					data = model.pstatus
				}
				r.write(regMDIC, uint32(data)|1<<mdicReadyBit)
			case mdicOpWrite:
				data := uint16(v & mdicDataMask)
				if reg == pctrlReg {
					model.pctrl = data
				} else if reg == pstatusReg {
					model.pstatus = data
				}
				r.write(regMDIC, 1<<mdicReadyBit)
			}
			model.mu.Unlock()
		}
	}()

	return model
}

// S1 — Internal MAC loopback echo.
func TestIgbLoopbackEcho(t *testing.T) {
	r := newTestRegs(t, 1<<17)
	region := newTestRegion(t, 4<<20)

	d := New(Config{
		MMIOBase:   r.base,
		Region:     region,
		RingSize:   32,
		PacketSize: 2048,
		Sleep:      time.Sleep,
	})

	model := startFakePhy(t, r)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.clearBit(regCTRL, ctrlRSTBit)
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		model.setPstatusBit(pstatusAutoNegCompleteBit)
	}()

	if err := d.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	rx, tx, err := d.NewRings()
	if err != nil {
		t.Fatalf("NewRings: %v", err)
	}

	d.EnableLoopback()

	for i := 0; i < 16; i++ {
		if err := rx.Submit(rx.NewRequest(i)); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	mac := d.ReadMAC()

	frame := make([]byte, 60)
	for i := 0; i < 6; i++ {
		frame[i] = 0xFF
	}
	copy(frame[6:12], mac[:])
	frame[12], frame[13] = 0x08, 0x00

	txReq := tx.NewRequest()
	copy(txReq.Bytes(), frame)

	if err := tx.Send(txReq); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Hardware transmits and loops the frame back to RX slot 0.
	txDesc := tx.pool.descAt(0)
	txDesc[12] |= txStatusDD
	tx.pool.setDescAt(0, txDesc)
	tx.regWrite(regDH, 1)

	var rxDesc [DescriptorSize]byte
	binary.LittleEndian.PutUint32(rxDesc[4:8], 1<<18) // hdr_status: loopback
	binary.LittleEndian.PutUint32(rxDesc[8:12], 0x1)   // error_type_status: DD
	binary.LittleEndian.PutUint32(rxDesc[12:16], 60)   // vlan_length: packet_len=60
	rx.pool.setDescAt(0, rxDesc)
	copy(rx.pool.slotBuf(0), frame)
	rx.regWrite(regDH, 1)

	finished, ok := tx.NextFinished()
	if !ok {
		t.Fatalf("expected a finished TX request")
	}
	if finished != txReq {
		t.Fatalf("NextFinished returned a different request")
	}

	pkt, ok := rx.NextPkt()
	if !ok {
		t.Fatalf("expected a completed RX packet")
	}

	if !pkt.Completion.Done {
		t.Fatalf("expected done=true")
	}
	if !pkt.Completion.Loopback {
		t.Fatalf("expected loopback=true")
	}
	if pkt.Completion.PacketLen != 60 {
		t.Fatalf("packet_len = %d, want 60", pkt.Completion.PacketLen)
	}
	if !bytes.Equal(pkt.Bytes, frame) {
		t.Fatalf("RX bytes = %x, want %x", pkt.Bytes, frame)
	}
}

// S8 — Open's MSI-X/legacy interrupt-mode decision.
func TestIgbOpenSelectsInterruptMode(t *testing.T) {
	for _, msixCapable := range []bool{true, false} {
		r := newTestRegs(t, 1<<17)
		region := newTestRegion(t, 1<<20)

		d := New(Config{
			MMIOBase:    r.base,
			Region:      region,
			RingSize:    8,
			PacketSize:  256,
			MSIXCapable: msixCapable,
			Sleep:       time.Sleep,
		})

		model := startFakePhy(t, r)

		go func() {
			time.Sleep(5 * time.Millisecond)
			r.clearBit(regCTRL, ctrlRSTBit)
		}()
		go func() {
			time.Sleep(20 * time.Millisecond)
			model.setPstatusBit(pstatusAutoNegCompleteBit)
		}()

		if err := d.Open(); err != nil {
			t.Fatalf("Open(MSIXCapable=%v): %v", msixCapable, err)
		}

		got := r.getBit(regGPIE, gpieMultipleMSIXBit)
		if got != msixCapable {
			t.Fatalf("GPIE.Multiple_MSIX = %v, want %v", got, msixCapable)
		}
	}
}

func TestCheckVidDid(t *testing.T) {
	cases := []struct {
		vid, did uint16
		want     bool
	}{
		{0x8086, 0x10C9, true},
		{0x8086, 0x1533, true},
		{0x8086, 0x1111, false},
		{0x1234, 0x10C9, false},
	}

	for _, c := range cases {
		if got := CheckVidDid(c.vid, c.did); got != c.want {
			t.Fatalf("CheckVidDid(%#x, %#x) = %v, want %v", c.vid, c.did, got, c.want)
		}
	}
}
