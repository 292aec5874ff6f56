// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "testing"

func TestPageInfoLRUN(t *testing.T) {
	info := lrun(17)
	if !info.isLRUN() || info.isSRUN() || info.isNRUN() || info.isFree() {
		t.Fatalf("lrun(17) classified wrong: %#x", uint32(info))
	}
	if got := info.lrunPages(); got != 17 {
		t.Fatalf("lrunPages() = %d, want 17", got)
	}
}

func TestPageInfoSRUN(t *testing.T) {
	info := srun(12)
	if !info.isSRUN() || info.isNRUN() || info.isLRUN() {
		t.Fatalf("srun(12) classified wrong: %#x", uint32(info))
	}
	if got := info.binNum(); got != 12 {
		t.Fatalf("binNum() = %d, want 12", got)
	}
	if got := info.freeCounter(); got != 0 {
		t.Fatalf("fresh srun freeCounter() = %d, want 0", got)
	}
	info = info.withFreeCounter(5)
	if got := info.freeCounter(); got != 5 {
		t.Fatalf("withFreeCounter(5).freeCounter() = %d, want 5", got)
	}
	if got := info.binNum(); got != 12 {
		t.Fatalf("withFreeCounter changed binNum: got %d, want 12", got)
	}
}

func TestPageInfoNRUN(t *testing.T) {
	info := nrun(9, 3)
	if !info.isNRUN() || !info.isSRUN() || info.isLRUN() {
		t.Fatalf("nrun(9,3) classified wrong: %#x", uint32(info))
	}
	if got := info.binNum(); got != 9 {
		t.Fatalf("binNum() = %d, want 9", got)
	}
	if got := info.nrunOffset(); got != 3 {
		t.Fatalf("nrunOffset() = %d, want 3", got)
	}
}

func TestPageInfoFree(t *testing.T) {
	var info pageInfo
	if !info.isFree() || info.isSRUN() || info.isLRUN() || info.isNRUN() {
		t.Fatalf("zero-value pageInfo isn't classified as free: %#x", uint32(info))
	}
}

func TestChunkOfRejectsChunkAlignedPointer(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	if got := h.chunkOf(h.mainChunk.pageAddr(0)); got != nil {
		// page 0 is chunk-aligned by construction; chunkOf must
		// reject the exact base address (invariant 1: never a valid
		// small/large payload pointer).
		t.Fatalf("chunkOf(chunk base) = %v, want nil", got)
	}
}

func TestAllocPagesBestFit(t *testing.T) {
	h := Startup()
	defer h.Shutdown(true, true)

	c, p1 := h.allocPages(4)
	if c == nil {
		t.Fatalf("allocPages(4) failed")
	}
	_, p2 := h.allocPages(2)
	if p2 == p1 {
		t.Fatalf("second allocPages returned overlapping page %d", p2)
	}
	h.freePagesRun(c, p1, 4, true)
	// The 4-page hole should be reused by a request that fits exactly.
	_, p3 := h.allocPages(4)
	if p3 != p1 {
		t.Fatalf("allocPages(4) after freeing = %d, want reuse of %d", p3, p1)
	}
}
