// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "testing"

func TestSizeClassRounding(t *testing.T) {
	cases := []struct {
		size     uint32
		wantBin  int
		wantSlot uint32
	}{
		{1, 0, 8},
		{8, 0, 8},
		{9, 1, 16},
		{16, 1, 16},
		{17, 2, 24},
		{64, 7, 64},
		{65, 8, 80},
		{81, 9, 96},
		{97, 10, 112},
		{113, 11, 128},
		{129, 12, 160},
		{256, 15, 256},
		{257, 16, 320},
		{3071, 29, 3072},
		{3072, 29, 3072},
	}
	for _, c := range cases {
		bin := sizeToBin(c.size)
		if bin != c.wantBin {
			t.Errorf("sizeToBin(%d) = %d, want %d", c.size, bin, c.wantBin)
			continue
		}
		if got := binDataSize[bin]; got != c.wantSlot {
			t.Errorf("binDataSize[sizeToBin(%d)] = %d, want %d", c.size, got, c.wantSlot)
		}
	}
}

func TestSizeClassMonotonic(t *testing.T) {
	prevBin := -1
	for size := uint32(1); size <= maxSmallSize; size++ {
		bin := sizeToBin(size)
		if bin < prevBin {
			t.Fatalf("sizeToBin regressed at size=%d: bin %d < previous %d", size, bin, prevBin)
		}
		if binDataSize[bin] < size {
			t.Fatalf("size=%d rounds to bin %d whose slot size %d is smaller", size, bin, binDataSize[bin])
		}
		prevBin = bin
	}
}

func TestIsSmall(t *testing.T) {
	if !isSmall(maxSmallSize) {
		t.Errorf("isSmall(%d) = false, want true", maxSmallSize)
	}
	if isSmall(maxSmallSize + 1) {
		t.Errorf("isSmall(%d) = true, want false", maxSmallSize+1)
	}
}

func TestAllocBinFreeBinRoundTrip(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	const bin = 5
	p := AllocBin(h, bin)
	FreeBin(h, p, bin)
	if got := AllocBin(h, bin); got != p {
		t.Fatalf("AllocBin after FreeBin = %p, want reused slot %p", got, p)
	}
}

func TestFixedBinWrappersRoundTrip(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	p := h.Alloc8()
	h.Free8(p)
	if got := h.Alloc8(); got != p {
		t.Fatalf("Alloc8 after Free8 = %p, want reused slot %p", got, p)
	}

	q := h.Alloc64()
	h.Free64(q)
	if got := h.Alloc64(); got != q {
		t.Fatalf("Alloc64 after Free64 = %p, want reused slot %p", got, q)
	}
}

func TestBinElementsAtLeastTwo(t *testing.T) {
	for bin := 0; bin < numBins; bin++ {
		if binElements[bin] < 2 {
			t.Errorf("bin %d has %d elements, want >= 2", bin, binElements[bin])
		}
		if binPages[bin] < 1 || binPages[bin] > 8 {
			t.Errorf("bin %d spans %d pages, want 1..8", bin, binPages[bin])
		}
	}
}
