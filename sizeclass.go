// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import (
	"math/bits"
	"unsafe"
)

// Size classes and the small/large boundary, following zend_alloc.c's
// ZEND_MM_BINS table (30 classes, 8..3072 bytes, a linear run of eight
// followed by a four-way-per-octave geometric staircase).

const (
	numBins      = 30
	maxSmallSize = 3072 // MAX_SMALL in spec.md
)

// binDataSize[k] is the slot size in bytes handed out by bin k.
var binDataSize = [numBins]uint32{
	8, 16, 24, 32, 40, 48, 56, 64,
	80, 96, 112, 128,
	160, 192, 224, 256,
	320, 384, 448, 512,
	640, 768, 896, 1024,
	1280, 1536, 1792, 2048,
	2560, 3072,
}

// binPages[k] and binElements[k] are derived once at init time: each bin
// is the smallest page count in 1..8 that both fits the spec's "1-8
// contiguous pages" ceiling and yields at least two slots, maximizing
// slot density without wasting more than one page's worth of space.
//
// The filtered capture of zend_alloc.c we were handed does not carry the
// ZEND_MM_BINS_INFO X-macro expansion (it lives in a header that fell
// outside the retrieval's size cap), so the exact upstream table isn't
// available; this formula reproduces the same shape (pages grow from 1
// to a handful as slot size approaches maxSmallSize) without guessing at
// unseen constants.
var (
	binPages    [numBins]uint32
	binElements [numBins]uint32
)

func init() {
	for k, size := range binDataSize {
		pages := uint32(1)
		for pages < 8 {
			elems := (pages * pageSize) / size
			if elems >= 2 {
				break
			}
			pages++
		}
		binPages[k] = pages
		binElements[k] = (pages * pageSize) / size
	}
}

// sizeToBin maps a small request size to its bin index, following
// zend_mm_small_size_to_bin's closed-form shift-and-mask exactly
// (bin = ((size-1) >> k) + 4(k-3) with k = floor(log2(size-1)) - 2,
// i.e. bits.Len32(size-1) - 3): for size <= 64 the linear run of eight
// 8-byte classes applies directly; above that, the top three bits of
// size-1 select one of four linear subdivisions within its octave.
func sizeToBin(size uint32) int {
	if size <= 64 {
		if size == 0 {
			return 0
		}
		return int((size - 1) >> 3)
	}
	t1 := size - 1
	// bits.Len32(t1) is the 1-indexed bit-width zend_mm_small_size_to_bit
	// computes via __builtin_clz (clz(x)^0x1f)+1.
	k := bits.Len32(t1) - 3
	bin := int(t1>>k) + 4*(int(k)-3)
	if bin >= numBins {
		return numBins - 1
	}
	return bin
}

// isSmall reports whether size is served by the slab allocator rather
// than the large-run allocator.
func isSmall(size int) bool {
	return size >= 0 && size <= maxSmallSize
}

// AllocBin allocates directly from bin, the one entry point the eight
// fixed-size wrappers below and any caller who has already computed a
// bin index (e.g. after calling sizeToBin once for a batch of same-size
// requests) can use to skip the size-to-bin lookup on every call.
func AllocBin(h *Heap, bin int) unsafe.Pointer {
	return h.allocSmall(bin)
}

// Alloc8 through Alloc64 special-case the eight smallest, most common
// size classes the way the teacher's mallocgc special-cases its own
// tiny allocator path for sizes below 16 bytes: a direct bin index
// skips sizeToBin's branch entirely.
func (h *Heap) Alloc8() unsafe.Pointer  { return h.allocSmall(0) }
func (h *Heap) Alloc16() unsafe.Pointer { return h.allocSmall(1) }
func (h *Heap) Alloc24() unsafe.Pointer { return h.allocSmall(2) }
func (h *Heap) Alloc32() unsafe.Pointer { return h.allocSmall(3) }
func (h *Heap) Alloc40() unsafe.Pointer { return h.allocSmall(4) }
func (h *Heap) Alloc48() unsafe.Pointer { return h.allocSmall(5) }
func (h *Heap) Alloc56() unsafe.Pointer { return h.allocSmall(6) }
func (h *Heap) Alloc64() unsafe.Pointer { return h.allocSmall(7) }

// FreeBin releases p directly to bin, the free-side counterpart to
// AllocBin: a caller that already knows p's bin (e.g. it allocated p
// through AllocBin or one of the Alloc8..Alloc64 wrappers) skips the
// chunk/page-map classification the generic Heap.Free performs.
func FreeBin(h *Heap, p unsafe.Pointer, bin int) {
	h.freeSmall(p, bin)
}

// Free8 through Free64 are the free-side counterparts to Alloc8..Alloc64,
// releasing directly to a known bin without reclassifying p through
// chunkOf/pageMap the way Heap.Free must for an arbitrary pointer.
func (h *Heap) Free8(p unsafe.Pointer)  { h.freeSmall(p, 0) }
func (h *Heap) Free16(p unsafe.Pointer) { h.freeSmall(p, 1) }
func (h *Heap) Free24(p unsafe.Pointer) { h.freeSmall(p, 2) }
func (h *Heap) Free32(p unsafe.Pointer) { h.freeSmall(p, 3) }
func (h *Heap) Free40(p unsafe.Pointer) { h.freeSmall(p, 4) }
func (h *Heap) Free48(p unsafe.Pointer) { h.freeSmall(p, 5) }
func (h *Heap) Free56(p unsafe.Pointer) { h.freeSmall(p, 6) }
func (h *Heap) Free64(p unsafe.Pointer) { h.freeSmall(p, 7) }
