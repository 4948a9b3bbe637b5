// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"container/list"
	"errors"
)

// Init initializes the global DMA region used by the package-level Reserve,
// Alloc, Read, Write, Free and Release functions.
//
// Applications needing multiple disjoint DMA regions (e.g. a RAM pool for
// descriptor/packet buffers plus one or more MMIO-backed regions for device
// register windows) should use NewRegion directly instead.
func Init(start uint, size uint) {
	dma = &Region{
		start:      start,
		size:       size,
		freeBlocks: list.New(),
		usedBlocks: make(map[uint]*block),
	}

	dma.freeBlocks.PushBack(&block{
		addr: start,
		size: size,
	})
}

// NewRegion returns a Region instance mapped over an arbitrary physical
// address range, without taking part in the global DMA region used by Init
// and the package-level functions.
//
// unique controls whether addr/size is additionally required not to overlap
// any block already handed out by this Region (always false for a freshly
// created Region, as there is nothing yet to overlap).
func NewRegion(addr uint, size int, unique bool) (r *Region, err error) {
	if size <= 0 {
		return nil, errors.New("invalid region size")
	}

	r = &Region{
		start:      addr,
		size:       uint(size),
		freeBlocks: list.New(),
		usedBlocks: make(map[uint]*block),
	}

	r.freeBlocks.PushBack(&block{
		addr: addr,
		size: uint(size),
	})

	return
}

// Reserve is the package-level equivalent of Region.Reserve, operating on
// the global DMA region set up through Init.
func Reserve(size int, align int) (addr uint, buf []byte) {
	return dma.Reserve(size, align)
}

// Reserved is the package-level equivalent of Region.Reserved, operating on
// the global DMA region set up through Init.
func Reserved(buf []byte) (res bool, addr uint) {
	if len(buf) == 0 || dma == nil {
		return false, 0
	}

	return dma.Reserved(buf)
}

// Alloc is the package-level equivalent of Region.Alloc, operating on the
// global DMA region set up through Init.
func Alloc(buf []byte, align int) (addr uint) {
	return dma.Alloc(buf, align)
}

// Read is the package-level equivalent of Region.Read, operating on the
// global DMA region set up through Init.
func Read(addr uint, off int, buf []byte) {
	dma.Read(addr, off, buf)
}

// Write is the package-level equivalent of Region.Write, operating on the
// global DMA region set up through Init.
func Write(addr uint, off int, buf []byte) {
	dma.Write(addr, off, buf)
}

// Free is the package-level equivalent of Region.Free, operating on the
// global DMA region set up through Init.
func Free(addr uint) {
	dma.Free(addr)
}

// Release is the package-level equivalent of Region.Release, operating on
// the global DMA region set up through Init.
func Release(addr uint) {
	dma.Release(addr)
}
