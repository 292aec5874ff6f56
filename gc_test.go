// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import (
	"testing"
	"unsafe"
)

// Invariant 7: for every pointer in any free_slot[k], the owning
// chunk's page-info at the bin's head page encodes bin k.
func TestFreeSlotPageEncodesBin(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	const bin = 3 // 32-byte class
	var live [64]unsafe.Pointer
	for i := range live {
		live[i] = h.allocSmall(bin)
	}
	for i := range live {
		h.freeSmall(live[i], bin)
	}

	for p := h.freeSlot[bin]; p != nil; p = slotAt(p).next {
		c := h.chunkOf(p)
		if c == nil {
			t.Fatalf("free slot %p has no owning chunk", p)
		}
		pageNum := c.pageOf(p)
		info := c.pageMap[pageNum]
		if info.isNRUN() {
			pageNum -= info.nrunOffset()
			info = c.pageMap[pageNum]
		}
		if !info.isSRUN() {
			t.Fatalf("free slot %p's bin head page is not SRUN: %#x", p, uint32(info))
		}
		if info.binNum() != bin {
			t.Fatalf("free slot %p's bin head page encodes bin %d, want %d", p, info.binNum(), bin)
		}
	}
}

func TestGCWithLiveAllocationsSkipsThem(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	kept := h.Alloc(24)
	for i := 0; i < 100; i++ {
		h.Free(h.Alloc(24))
	}
	h.GC()
	if got := h.BlockSize(kept); got != 24 {
		t.Fatalf("live allocation corrupted by GC: BlockSize = %d, want 24", got)
	}
}
