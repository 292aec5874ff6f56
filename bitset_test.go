// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "testing"

func TestBitsetSetResetRange(t *testing.T) {
	var b pageBitset
	b.setRange(2, 5)
	for i := 0; i < pagesPerChunk; i++ {
		want := i >= 2 && i < 7
		if got := b.isSet(i); got != want {
			t.Fatalf("isSet(%d) = %v, want %v", i, got, want)
		}
	}
	b.resetRange(3, 2)
	if b.isSet(3) || b.isSet(4) {
		t.Fatalf("resetRange left bits 3,4 set")
	}
	if !b.isSet(2) || !b.isSet(5) || !b.isSet(6) {
		t.Fatalf("resetRange cleared bits outside its range")
	}
}

func TestBitsetFindFirstZero(t *testing.T) {
	var b pageBitset
	b.setRange(0, 10)
	if got := b.findFirstZero(0); got != 10 {
		t.Fatalf("findFirstZero(0) = %d, want 10", got)
	}
	b.setRange(10, pagesPerChunk-10)
	if got := b.findFirstZero(0); got != -1 {
		t.Fatalf("findFirstZero(0) on a full bitset = %d, want -1", got)
	}
}

func TestBitsetFindFirstOne(t *testing.T) {
	var b pageBitset
	if got := b.findFirstOne(0); got != -1 {
		t.Fatalf("findFirstOne(0) on empty bitset = %d, want -1", got)
	}
	b.setBit(100)
	if got := b.findFirstOne(0); got != 100 {
		t.Fatalf("findFirstOne(0) = %d, want 100", got)
	}
	if got := b.findFirstOne(101); got != -1 {
		t.Fatalf("findFirstOne(101) = %d, want -1", got)
	}
}

func TestBitsetIsFreeRange(t *testing.T) {
	var b pageBitset
	b.setBit(5)
	if b.isFreeRange(0, 6) {
		t.Fatalf("isFreeRange(0,6) = true, want false (bit 5 set)")
	}
	if !b.isFreeRange(6, 10) {
		t.Fatalf("isFreeRange(6,10) = false, want true")
	}
}

func TestBitsetCountZeros(t *testing.T) {
	var b pageBitset
	if got := b.countZeros(); got != pagesPerChunk {
		t.Fatalf("countZeros() on empty bitset = %d, want %d", got, pagesPerChunk)
	}
	b.setRange(0, 100)
	if got := b.countZeros(); got != pagesPerChunk-100 {
		t.Fatalf("countZeros() = %d, want %d", got, pagesPerChunk-100)
	}
}

func TestBitsetRunLen(t *testing.T) {
	var b pageBitset
	b.setBit(5)
	if got := b.runLen(0, 10); got != 5 {
		t.Fatalf("runLen(0,10) = %d, want 5", got)
	}
	if got := b.runLen(6, 10); got != 10 {
		t.Fatalf("runLen(6,10) = %d, want 10", got)
	}
}
