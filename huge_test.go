// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "testing"

func TestHugeAllocAndFree(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	size := maxLarge + 1
	p := h.Alloc(size)
	if p == nil {
		t.Fatalf("Alloc(%d) returned nil", size)
	}
	if got := h.BlockSize(p); got < size {
		t.Fatalf("BlockSize(huge) = %d, want >= %d", got, size)
	}
	h.Free(p)

	b, _ := h.findHuge(p)
	if b != nil {
		t.Fatalf("huge block still tracked after Free")
	}
}

// Realloc(p, n) with n == block_size(p) returns p unchanged, even for
// the huge tier (round-trip law, spec.md §8).
func TestHugeReallocSameSizeNoop(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	p := h.Alloc(maxLarge + 1)
	size := h.BlockSize(p)
	q := h.Realloc(p, size)
	if q != p {
		t.Fatalf("Realloc(p, block_size(p)) = %p, want unchanged %p", q, p)
	}
}

func TestHugeReallocShrinkTruncatesInPlace(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	size := maxLarge + 3*pageSize
	p := h.Alloc(size)
	_, realBefore := h.Usage()

	b := byte(0x5A)
	*(*byte)(p) = b

	q := h.Realloc(p, maxLarge+pageSize)
	if q != p {
		t.Fatalf("Realloc shrink of a huge block returned %p, want same pointer %p", q, p)
	}
	if got := *(*byte)(q); got != b {
		t.Fatalf("shrunk huge block lost its first byte")
	}
	_, realAfter := h.Usage()
	if realAfter >= realBefore {
		t.Fatalf("real usage after huge shrink = %d, want < %d", realAfter, realBefore)
	}
}

func TestHugeRecordBinCarriesItself(t *testing.T) {
	// hugeRecordBin must be small enough that a hugeBlock record never
	// itself triggers the huge path while being allocated.
	if !isSmall(int(binDataSize[hugeRecordBin])) {
		t.Fatalf("hugeRecordBin %d resolves to a non-small bin", hugeRecordBin)
	}
}
