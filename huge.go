// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "unsafe"

// hugeBlock records one direct OS mapping serving a request larger
// than maxLarge (spec.md §3, §4.5). The record itself is allocated
// through the small path, a bounded one-level recursion (spec.md §9):
// its own size is tiny and never itself triggers a huge allocation.
type hugeBlock struct {
	ptr  uintptr
	size int
	next *hugeBlock
}

// hugeRecordBin is the size class the tiny hugeBlock record itself is
// carved from.
var hugeRecordBin = sizeToBin(uint32(unsafe.Sizeof(hugeBlock{})))

// allocHuge maps size bytes (rounded to the OS page size), limit-checks
// with one GC-and-retry, and threads a record onto h.hugeList.
func (h *Heap) allocHuge(size int) unsafe.Pointer {
	newSize := roundOSPage(size)
	if h.realSize+newSize > h.limit {
		if h.gc() > 0 && h.realSize+newSize <= h.limit {
			// pass
		} else if !h.overflow {
			h.fatal(LimitExceeded, "allowed memory size exhausted")
			return nil
		}
	}
	base := chunkAlloc(uintptr(newSize), chunkSize)
	if base == nil {
		if h.gc() > 0 {
			base = chunkAlloc(uintptr(newSize), chunkSize)
		}
		if base == nil {
			h.fatal(OutOfMemory, "failed to map a huge block")
			return nil
		}
	}
	rec := (*hugeBlock)(h.allocSmall(hugeRecordBin))
	rec.ptr = uintptr(base)
	rec.size = newSize
	rec.next = h.hugeList
	h.hugeList = rec

	h.realSize += newSize
	if h.realSize > h.realPeak {
		h.realPeak = h.realSize
	}
	h.size += newSize
	if h.size > h.peak {
		h.peak = h.size
	}
	return base
}

// findHuge locates the record for ptr, or nil if none matches
// (HeapCorruption - spec.md §7 - if called with an untracked pointer).
func (h *Heap) findHuge(ptr unsafe.Pointer) (*hugeBlock, *hugeBlock) {
	var prev *hugeBlock
	for b := h.hugeList; b != nil; b = b.next {
		if b.ptr == uintptr(ptr) {
			return b, prev
		}
		prev = b
	}
	return nil, nil
}

// delHuge unlinks the record for ptr and returns its size, reading its
// fields before handing the record itself back to freeSmall so nothing
// reads freed memory (spec.md §5's "record fields must be read before
// the record is freed").
func (h *Heap) delHuge(ptr unsafe.Pointer) int {
	var prevLink **hugeBlock = &h.hugeList
	for b := h.hugeList; b != nil; b = b.next {
		if b.ptr == uintptr(ptr) {
			*prevLink = b.next
			size := b.size
			h.freeSmall(unsafe.Pointer(b), hugeRecordBin)
			return size
		}
		prevLink = &b.next
	}
	corrupt("free of untracked huge block")
	return 0
}

// freeHuge unmaps ptr and adjusts size/real_size (spec.md §4.5).
func (h *Heap) freeHuge(ptr unsafe.Pointer) {
	size := h.delHuge(ptr)
	chunkFree(ptr, uintptr(size))
	h.realSize -= size
	h.size -= size
}
