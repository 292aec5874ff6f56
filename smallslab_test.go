// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "testing"

func TestAllocSmallSlowThreadsWholeBin(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	const bin = 0 // 8-byte class, bin_elements[0] is the largest count
	elements := int(binElements[bin])

	seen := make(map[uintptr]bool, elements)
	for i := 0; i < elements; i++ {
		p := h.allocSmall(bin)
		if p == nil {
			t.Fatalf("allocSmall(%d) returned nil on slot %d/%d", bin, i, elements)
		}
		addr := uintptr(p)
		if seen[addr] {
			t.Fatalf("allocSmall(%d) returned duplicate address %#x on slot %d", bin, addr, i)
		}
		seen[addr] = true
	}
}

func TestNRUNPagesCarryBinAndOffset(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	// bin 0 (8 bytes) packs many elements per page, so find a bin whose
	// bin_pages spans more than one page to exercise the NRUN chain.
	bin := -1
	for k := 0; k < numBins; k++ {
		if binPages[k] > 1 {
			bin = k
			break
		}
	}
	if bin < 0 {
		t.Skip("no bin in this table spans multiple pages")
	}

	p := h.allocSmall(bin)
	c := h.chunkOf(p)
	headPage := c.pageOf(p)
	pages := int(binPages[bin])
	for i := 1; i < pages; i++ {
		info := c.pageMap[headPage+i]
		if !info.isNRUN() {
			t.Fatalf("page %d of bin %d's run is not NRUN: %#x", i, bin, uint32(info))
		}
		if info.binNum() != bin {
			t.Fatalf("NRUN page %d encodes bin %d, want %d", i, info.binNum(), bin)
		}
		if info.nrunOffset() != i {
			t.Fatalf("NRUN page %d encodes offset %d, want %d", i, info.nrunOffset(), i)
		}
	}
}

func TestFreeSmallPushesLIFO(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	const bin = 5
	a := h.allocSmall(bin)
	b := h.allocSmall(bin)
	h.freeSmall(a, bin)
	h.freeSmall(b, bin)

	if got := h.allocSmall(bin); got != b {
		t.Fatalf("first re-alloc = %p, want most recently freed %p", got, b)
	}
	if got := h.allocSmall(bin); got != a {
		t.Fatalf("second re-alloc = %p, want %p", got, a)
	}
}
