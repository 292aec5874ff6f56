// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "unsafe"

// pageInfo is the packed per-page state word described in spec.md §3:
// FRUN (0), LRUN (high bit 0x40000000, low 10 bits page count), SRUN
// (high bit 0x80000000, low 5 bits bin number, bits 16..24 a free
// counter used only by gc.go), NRUN (both high bits, bits 16..24 the
// offset in pages back to the bin's head page).
type pageInfo uint32

const (
	lrunFlag     pageInfo = 0x40000000
	srunFlag     pageInfo = 0x80000000
	lrunPagesMax pageInfo = 0x000003ff
	srunBinMask  pageInfo = 0x0000001f
	counterMask  pageInfo = 0x01ff0000
	counterShift          = 16
)

func lrun(pages int) pageInfo { return lrunFlag | pageInfo(pages) }

func srun(bin int) pageInfo { return srunFlag | pageInfo(bin) }
func nrun(bin, offset int) pageInfo {
	return srunFlag | lrunFlag | pageInfo(bin) | (pageInfo(offset) << counterShift)
}

func (p pageInfo) isFree() bool  { return p == 0 }
func (p pageInfo) isLRUN() bool  { return p&(lrunFlag|srunFlag) == lrunFlag }
func (p pageInfo) isSRUN() bool  { return p&srunFlag != 0 }
func (p pageInfo) isNRUN() bool  { return p&(lrunFlag|srunFlag) == lrunFlag|srunFlag }
func (p pageInfo) lrunPages() int { return int(p & lrunPagesMax) }
func (p pageInfo) binNum() int    { return int(p & srunBinMask) }
func (p pageInfo) nrunOffset() int {
	return int((p & counterMask) >> counterShift)
}
func (p pageInfo) freeCounter() int {
	return int((p & counterMask) >> counterShift)
}
func (p pageInfo) withFreeCounter(c int) pageInfo {
	return (p &^ counterMask) | (pageInfo(c) << counterShift)
}

// Chunk is the metadata for one 2MiB, 2MiB-aligned OS mapping (spec.md
// §3). Unlike zend_mm_chunk, this metadata is NOT overlaid on the raw
// mapping itself: it lives in ordinary Go-managed memory, reachable
// from Heap.chunksByBase, while base..base+chunkSize is raw, GC-opaque
// payload space. See DESIGN.md for why: a Go struct containing pointers
// (heap, next, prev, free-slot lists) cannot safely live inside memory
// the garbage collector doesn't scan, the way a C struct safely can.
type Chunk struct {
	base uintptr // address of the raw chunkSize-byte mapping

	heap *Heap
	next *Chunk
	prev *Chunk

	freePages int // count of pages currently marked free
	freeTail  int // one past the highest allocated page; retreats when the run ending there is freed
	num       uint32

	freeMap pageBitset
	pageMap [pagesPerChunk]pageInfo
}

// pageAddr returns the address of page n within c.
func (c *Chunk) pageAddr(n int) unsafe.Pointer {
	return unsafe.Pointer(c.base + uintptr(n)*pageSize)
}

// pageOf returns the page number containing address p, which must lie
// within this chunk.
func (c *Chunk) pageOf(p unsafe.Pointer) int {
	return int((uintptr(p) - c.base) / pageSize)
}

// chunkOf recovers the owning Chunk for any pointer previously returned
// by the heap, in O(1): mask the address down to its 2MiB-aligned
// chunk base (spec.md §9's "linchpin of O(1) free") and look it up.
// Returns nil if p is chunk-aligned itself (a huge block or a chunk
// base, never a valid small/large payload pointer - invariant 1).
func (h *Heap) chunkOf(p unsafe.Pointer) *Chunk {
	base := uintptr(p) &^ (chunkSize - 1)
	if base == uintptr(p) {
		return nil
	}
	return h.chunksByBase[base]
}

// newChunk maps and initializes a fresh chunk: the first firstPage
// pages are marked allocated as one LRUN covering the header, the
// remainder starts out entirely free (zend_mm_chunk_init).
func newChunk(h *Heap) *Chunk {
	base := chunkAlloc(chunkSize, chunkSize)
	if base == nil {
		return nil
	}
	h.nextChunkNum++
	c := &Chunk{
		base:      uintptr(base),
		heap:      h,
		freePages: pagesPerChunk - firstPage,
		freeTail:  firstPage,
		num:       h.nextChunkNum,
	}
	c.freeMap.setRange(0, firstPage)
	c.pageMap[0] = lrun(firstPage)
	h.chunksCount++
	if h.chunksCount > h.peakChunksCount {
		h.peakChunksCount = h.chunksCount
	}
	h.chunksByBase[c.base] = c
	return c
}

// linkChunk threads c into the heap's ring immediately after anchor.
func linkChunk(anchor, c *Chunk) {
	c.next = anchor.next
	c.prev = anchor
	anchor.next.prev = c
	anchor.next = c
}

// unlinkChunk splices c out of whatever ring it's in.
func unlinkChunk(c *Chunk) {
	c.next.prev = c.prev
	c.prev.next = c.next
}

// allocPages implements the best-fit page allocator (spec.md §4.3):
// walk the chunk ring once; within each chunk, scan the free bitmap
// for the shortest run of >= n free pages, exiting early on an exact
// fit. If no chunk fits, pop a cached chunk or map a fresh one
// (limit-checked, GC-and-retry on overflow).
func (h *Heap) allocPages(n int) (*Chunk, int) {
	chunk := h.mainChunk
	steps := 0
	for {
		if chunk.freePages >= n {
			if pn, ok := chunk.bestFit(n); ok {
				h.commitPages(chunk, pn, n, steps)
				return chunk, pn
			}
		}
		if chunk.next == h.mainChunk {
			break
		}
		chunk = chunk.next
		steps++
	}

	// One lap found nothing: get a chunk, then use its virgin space.
	next := h.obtainChunk()
	if next == nil {
		return nil, -1
	}
	linkChunk(h.mainChunk, next)
	h.commitPages(next, firstPage, n, 0)
	return next, firstPage
}

// bestFit scans c's free_map for the shortest run of >= n clear bits,
// tracking the best candidate so far and early-exiting on an exact
// fit (spec.md §4.3). free_tail (maintained in commitPages/freePagesRun
// and bounding gc's page-map walk) is deliberately not consulted here:
// the scan always covers the whole bitmap and stays simple to verify.
func (c *Chunk) bestFit(n int) (int, bool) {
	best := -1
	bestLen := pagesPerChunk + 1
	i := 0
	for i < pagesPerChunk {
		start := c.freeMap.findFirstZero(i)
		if start < 0 {
			break
		}
		end := c.freeMap.findFirstOne(start)
		runLen := pagesPerChunk - start
		if end >= 0 {
			runLen = end - start
		}
		if runLen >= n {
			if runLen == n {
				return start, true
			}
			if runLen < bestLen {
				bestLen = runLen
				best = start
			}
		}
		if end < 0 {
			break
		}
		i = end
	}
	if best >= 0 {
		return best, true
	}
	return 0, false
}

// commitPages marks [pageNum, pageNum+n) allocated as one LRUN and
// applies the locality heuristic (spec.md §4.3 step 5): a chunk that
// took more than two ring hops to find, for a small request, is moved
// to the front of the ring so the next small request finds it fast.
func (h *Heap) commitPages(c *Chunk, pageNum, n, steps int) {
	c.freePages -= n
	c.freeMap.setRange(pageNum, n)
	c.pageMap[pageNum] = lrun(n)
	if end := pageNum + n; end > c.freeTail {
		c.freeTail = end
	}
	if steps > 2 && n < 8 && c != h.mainChunk {
		unlinkChunk(c)
		linkChunk(h.mainChunk, c)
	}
}

// obtainChunk pops a cached chunk or maps a fresh one, enforcing the
// byte limit with a single GC-and-retry (spec.md §4.3 step 2, §7).
func (h *Heap) obtainChunk() *Chunk {
	if h.cachedChunks != nil {
		c := h.cachedChunks
		h.cachedChunks = c.next
		h.cachedChunksCount--
		h.chunksByBase[c.base] = c
		h.chunksCount++
		if h.chunksCount > h.peakChunksCount {
			h.peakChunksCount = h.chunksCount
		}
		return c
	}
	if h.realSize+chunkSize > h.limit {
		if h.gc() > 0 && h.realSize+chunkSize <= h.limit {
			// fall through to mapping below
		} else if !h.overflow {
			h.fatal(LimitExceeded, "allowed memory size exhausted")
			return nil
		}
	}
	c := newChunk(h)
	if c == nil {
		if h.gc() > 0 {
			c = newChunk(h)
		}
		if c == nil {
			h.fatal(OutOfMemory, "failed to map a new chunk")
			return nil
		}
	}
	h.realSize += chunkSize
	if h.realSize > h.realPeak {
		h.realPeak = h.realSize
	}
	if h.Verbose {
		debugPrintf("mapped chunk %d, chunks=%d real_size=%d\n", c.num, h.chunksCount, h.realSize)
	}
	return c
}

// allocLarge rounds size up to whole pages and serves it from the
// best-fit page allocator, accounting the rounded size against the
// heap's size/peak counters (zend_mm_alloc_large, spec.md §4.3).
func (h *Heap) allocLarge(size int) unsafe.Pointer {
	pages := roundPage(size) / pageSize
	c, pageNum := h.allocPages(pages)
	if c == nil {
		return nil
	}
	h.size += pages * pageSize
	if h.size > h.peak {
		h.peak = h.size
	}
	return c.pageAddr(pageNum)
}

// freePagesRun releases [pageNum, pageNum+n) back to c, retreating
// free_tail when the freed run ends exactly at it (spec.md §4.3) and
// considering the chunk for deletion/caching once fully empty.
func (h *Heap) freePagesRun(c *Chunk, pageNum, n int, considerDelete bool) {
	c.freePages += n
	c.freeMap.resetRange(pageNum, n)
	c.pageMap[pageNum] = 0
	if c.freeTail == pageNum+n {
		c.freeTail = pageNum
	}
	if considerDelete && c.freePages == pagesPerChunk-firstPage {
		h.deleteChunk(c)
	}
}

// deleteChunk implements the chunk cache replacement policy of
// spec.md §4.6 / zend_mm_delete_chunk: splice c out of the ring, then
// either cache it (if the heap is below its running-average chunk
// count) or unmap it, preferring to evict the oldest cached chunk
// (lowest num - "younger chunks are more likely to be hot") and keep
// the freshly freed one instead.
func (h *Heap) deleteChunk(c *Chunk) {
	if c == h.mainChunk {
		// The main chunk embeds the heap; never freed except on full shutdown.
		return
	}
	unlinkChunk(c)
	delete(h.chunksByBase, c.base)
	h.chunksCount--
	if float64(h.chunksCount+h.cachedChunksCount) < h.avgChunksCount+0.1 {
		h.cachedChunksCount++
		c.next = h.cachedChunks
		h.cachedChunks = c
		return
	}
	h.realSize -= chunkSize
	// Evict the oldest cached chunk (lowest num - it's been idle
	// longest) and cache the one we just freed instead, on the theory
	// that a chunk freed moments ago is more likely to be reused soon
	// than one that's been sitting in the cache (spec.md §4.6, §9).
	// When c is older than every cached chunk, c itself is unmapped.
	link := &h.cachedChunks
	for p := &h.cachedChunks; *p != nil; p = &(*p).next {
		if (*p).num < (*link).num {
			link = p
		}
	}
	evict := *link
	if evict == nil || c.num < evict.num {
		chunkFree(unsafe.Pointer(c.base), chunkSize)
		return
	}
	*link = evict.next
	chunkFree(unsafe.Pointer(evict.base), chunkSize)
	c.next = h.cachedChunks
	h.cachedChunks = c
}
