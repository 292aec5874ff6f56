// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "unsafe"

// freeSlot is the single forward pointer threaded through offset 0 of
// an unused slot (zend_mm_free_slot), the same intrusive-linked-list
// trick the small-object free lists in mcache.go's gclink use.
type freeSlot struct {
	next unsafe.Pointer
}

func slotAt(p unsafe.Pointer) *freeSlot { return (*freeSlot)(p) }

// allocSmall is the fast path: pop the head of bin's free-slot list if
// non-empty, otherwise carve a fresh bin (spec.md §4.4).
func (h *Heap) allocSmall(bin int) unsafe.Pointer {
	size := int(binDataSize[bin])
	h.size += size
	if h.size > h.peak {
		h.peak = h.size
	}
	if p := h.freeSlot[bin]; p != nil {
		h.freeSlot[bin] = slotAt(p).next
		return p
	}
	return h.allocSmallSlow(bin)
}

// allocSmallSlow carves a fresh bin: allocPages for bin_pages[bin]
// pages, mark the first page SRUN and the rest NRUN (each carrying its
// own offset back to the bin head - spec.md §9's "NRUN trick"), then
// thread slots [1..elements-1] onto the free list and hand back slot 0.
func (h *Heap) allocSmallSlow(bin int) unsafe.Pointer {
	pages := int(binPages[bin])
	c, pageNum := h.allocPages(pages)
	if c == nil {
		return nil
	}
	c.pageMap[pageNum] = srun(bin)
	for i := 1; i < pages; i++ {
		c.pageMap[pageNum+i] = nrun(bin, i)
	}

	base := c.pageAddr(pageNum)
	slotSize := uintptr(binDataSize[bin])
	elements := int(binElements[bin])

	// Thread slots 1..elements-1 onto the free list; slot 0 is
	// returned immediately to the caller without ever touching the list.
	var head *freeSlot
	for i := elements - 1; i >= 1; i-- {
		p := unsafe.Pointer(uintptr(base) + uintptr(i)*slotSize)
		slotAt(p).next = unsafe.Pointer(head)
		head = slotAt(p)
	}
	h.freeSlot[bin] = unsafe.Pointer(head)
	return base
}

// freeSmall pushes p back onto bin's free-slot list. Per-bin live
// counts are not tracked eagerly here; GC reconstructs them by walking
// the free lists (spec.md §4.4, §4.7).
func (h *Heap) freeSmall(p unsafe.Pointer, bin int) {
	h.size -= int(binDataSize[bin])
	slotAt(p).next = h.freeSlot[bin]
	h.freeSlot[bin] = p
}
