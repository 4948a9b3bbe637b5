// Intel 82576 gigabit Ethernet controller driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package igb

import "github.com/vfio-go/igb82576/dma"

// descriptorAlign is the minimum alignment the 82576 imposes on a
// descriptor ring's base address.
const descriptorAlign = 128

// pool owns the descriptor array and per-slot packet buffers backing one
// ring. It obtains both from a single dma.Reserve call each, following
// soc/nxp/enet's bufferDescriptorRing.init pattern of one allocation for
// all descriptors and one for all packet data, to avoid fragmenting the
// DMA region across many small per-slot allocations.
type pool struct {
	region *dma.Region

	count   int
	pktSize int

	descPhys uint
	desc     []byte

	pktPhys uint
	pkts    []byte
}

// newPool allocates a descriptor array of count entries and count packet
// buffers of pktSize bytes each, from the given DMA region.
//
// dma.Region.alloc panics with "out of memory" rather than returning an
// error; that panic is recovered here and surfaced as ErrNoMemory, per the
// result-returning contract every operation in this package follows.
func newPool(region *dma.Region, count int, pktSize int) (p *pool, err error) {
	if count <= 0 || pktSize <= 0 {
		return nil, ErrInvalidParameter
	}

	defer func() {
		if r := recover(); r != nil {
			p, err = nil, ErrNoMemory
		}
	}()

	descPhys, desc := region.Reserve(count*DescriptorSize, descriptorAlign)

	for i := range desc {
		desc[i] = 0
	}

	pktPhys, pkts := region.Reserve(count*pktSize, descriptorAlign)

	return &pool{
		region:   region,
		count:    count,
		pktSize:  pktSize,
		descPhys: descPhys,
		desc:     desc,
		pktPhys:  pktPhys,
		pkts:     pkts,
	}, nil
}

// free releases both regions backing the pool.
func (p *pool) free() {
	p.region.Release(p.descPhys)
	p.region.Release(p.pktPhys)
}

// descPhysAddr is the physical base address of the descriptor array.
func (p *pool) descPhysAddr() uint64 {
	return uint64(p.descPhys)
}

// descAt returns the 16-byte descriptor cell for slot i.
func (p *pool) descAt(i int) [DescriptorSize]byte {
	var d [DescriptorSize]byte
	copy(d[:], p.desc[i*DescriptorSize:(i+1)*DescriptorSize])
	return d
}

// setDescAt writes the 16-byte descriptor cell for slot i.
func (p *pool) setDescAt(i int, d [DescriptorSize]byte) {
	copy(p.desc[i*DescriptorSize:(i+1)*DescriptorSize], d[:])
}

// slotBufPhys is the physical address of slot i's packet buffer.
func (p *pool) slotBufPhys(i int) uint64 {
	return uint64(p.pktPhys) + uint64(i*p.pktSize)
}

// slotBuf is the byte slice backing slot i's packet buffer.
func (p *pool) slotBuf(i int) []byte {
	return p.pkts[i*p.pktSize : (i+1)*p.pktSize]
}

// NewRequest binds slot i's pre-allocated buffer into a Request for the
// given direction. Slot i always maps to the same buffer and physical
// address, so a Request obtained this way and later posted to slot i keeps
// the descriptor's address field and the request's Phys in lockstep.
func (p *pool) NewRequest(i int, dir Direction) *Request {
	return &Request{buf: p.slotBuf(i), phys: p.slotBufPhys(i), dir: dir}
}

// prepareForDevice is a cache-management hook for non-coherent platforms;
// a no-op here since dma.Region backs DMA-coherent memory.
func (p *pool) prepareForDevice(i int) {}

// prepareForCPU is a cache-management hook for non-coherent platforms; a
// no-op here since dma.Region backs DMA-coherent memory.
func (p *pool) prepareForCPU(i int) {}
