// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

// gc runs the three-pass free-slot-list sweep (spec.md §4.7,
// zend_mm_gc): per-slot accounting never happens eagerly on freeSmall,
// so a GC pass is what turns "every slot in a bin happens to be free"
// into pages the page allocator can reuse.
//
// Pass 1 walks each bin's free-slot list once, incrementing a counter
// stashed in the owning SRUN page-info word for every slot seen;
// a count that reaches the bin's element count means every slot in
// that page is on the free list.
// Pass 2 walks the same lists again, unthreading slots whose page
// turned out fully free - those slots are about to stop existing.
// Pass 3 walks every chunk's page map once, reclaiming fully-free SRUN
// pages (and resetting the counter on the rest) and folding any chunk
// that ends up entirely empty back into the cache.
//
// Returns the number of bytes reclaimed.
func (h *Heap) gc() int {
	var collected int

	for bin := 0; bin < numBins; bin++ {
		elements := int(binElements[bin])
		hasFreePages := false

		for p := h.freeSlot[bin]; p != nil; {
			slot := slotAt(p)
			c := h.chunkOf(p)
			if c == nil || c.heap != h {
				corrupt("heap corrupted: free slot outside any chunk")
			}
			pageNum := c.pageOf(p)
			info := c.pageMap[pageNum]
			if !info.isSRUN() {
				corrupt("heap corrupted: free slot page is not SRUN")
			}
			if info.isNRUN() {
				pageNum -= info.nrunOffset()
				info = c.pageMap[pageNum]
			}
			if info.binNum() != bin {
				corrupt("heap corrupted: free slot bin mismatch")
			}
			counter := info.freeCounter() + 1
			if counter == elements {
				hasFreePages = true
			}
			c.pageMap[pageNum] = info.withFreeCounter(counter)
			p = slot.next
		}

		if !hasFreePages {
			continue
		}

		q := &h.freeSlot[bin]
		for p := *q; p != nil; p = slotAt(p).next {
			slot := slotAt(p)
			c := h.chunkOf(p)
			pageNum := c.pageOf(p)
			info := c.pageMap[pageNum]
			if info.isNRUN() {
				pageNum -= info.nrunOffset()
				info = c.pageMap[pageNum]
			}
			if info.freeCounter() == elements {
				*q = slot.next
			} else {
				q = &slot.next
			}
		}
	}

	c := h.mainChunk
	for {
		next := c.next
		i := firstPage
		for i < c.freeTail {
			if c.freeMap.isSet(i) {
				info := c.pageMap[i]
				if info.isSRUN() {
					bin := info.binNum()
					pages := int(binPages[bin])
					if info.freeCounter() == int(binElements[bin]) {
						h.freePagesRun(c, i, pages, false)
						collected += pages
					} else {
						c.pageMap[i] = srun(bin)
					}
					i += pages
				} else {
					i += info.lrunPages()
				}
			} else {
				i++
			}
		}
		if c.freePages == pagesPerChunk-firstPage {
			h.deleteChunk(c)
		}
		if next == h.mainChunk {
			break
		}
		c = next
	}

	return collected * pageSize
}

// GC reclaims pages left idle by bins whose every slot has been freed
// and folds fully empty chunks back into the cache, returning the
// number of bytes reclaimed (spec.md §4.7's public entry point).
func (h *Heap) GC() int {
	return h.gc()
}
