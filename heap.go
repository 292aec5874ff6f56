// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "unsafe"

// Heap is the process-wide allocator handle (spec.md §3's zend_mm_heap):
// a ring of chunks, 30 free-slot lists, a huge-block list and the
// byte-accounting fields used for the memory_limit feature. A Heap is
// not safe for concurrent use - see doc.go.
type Heap struct {
	size     int // bytes currently handed to callers, across all tiers
	peak     int // high-water mark of size
	realSize int // bytes currently mapped from the OS
	realPeak int // high-water mark of realSize
	limit    int // real_size ceiling enforced by SetLimit
	overflow bool

	reporter Reporter

	mainChunk         *Chunk
	cachedChunks      *Chunk
	chunksCount       int
	cachedChunksCount int
	peakChunksCount   int
	avgChunksCount    float64
	nextChunkNum      uint32

	chunksByBase map[uintptr]*Chunk

	freeSlot [numBins]unsafe.Pointer

	hugeList *hugeBlock

	// Verbose, when set, routes the allocator's own diagnostic prints
	// (one line per newly mapped chunk) to stderr - the equivalent of
	// the teacher's GODEBUG=gctrace-style debug knob, off by default.
	Verbose bool
}

// maxLimit is the default "effectively unbounded" limit, a quarter of
// the uint range (one bit below zend_mm_init's ((size_t)-1) >> 1), a
// ceiling so high that only an explicit SetLimit
// call can make LimitExceeded reachable in normal use.
const maxLimit = int(^uint(0) >> 2)

// Startup maps the first chunk and returns a ready-to-use Heap
// (zend_mm_init, spec.md §4.1 "Startup"). Allocation failure at this
// point has no heap to report through yet, so it panics.
func Startup() *Heap {
	base := chunkAlloc(chunkSize, chunkSize)
	if base == nil {
		panic("slabheap: failed to map initial chunk")
	}
	h := &Heap{
		limit:          maxLimit,
		reporter:       stderrReporter{},
		avgChunksCount: 1.0,
		realSize:       chunkSize,
		realPeak:       chunkSize,
		chunksCount:    1,
		peakChunksCount: 1,
	}
	c := &Chunk{
		base:      uintptr(base),
		heap:      h,
		freePages: pagesPerChunk - firstPage,
		freeTail:  firstPage,
	}
	c.next = c
	c.prev = c
	c.freeMap.setRange(0, firstPage)
	c.pageMap[0] = lrun(firstPage)
	h.mainChunk = c
	h.chunksByBase = map[uintptr]*Chunk{c.base: c}
	return h
}

// SetReporter installs r as the target of future fatal reports,
// replacing the default stderr-and-exit behavior.
func (h *Heap) SetReporter(r Reporter) {
	h.reporter = r
}

// SetLimit installs a new real-memory ceiling, clamped to at least one
// chunk (a Heap can never shrink below the space its own main chunk
// occupies - spec.md §4.1).
func (h *Heap) SetLimit(n int) {
	if n < chunkSize {
		n = chunkSize
	}
	h.limit = n
}

// Usage returns the bytes currently handed to callers and the bytes
// currently mapped from the OS (spec.md §4.1's size/real_size pair).
func (h *Heap) Usage() (size, realSize int) {
	return h.size, h.realSize
}

// PeakUsage returns the high-water marks of the two Usage counters.
func (h *Heap) PeakUsage() (peak, realPeak int) {
	return h.peak, h.realPeak
}

// Shutdown tears the heap down (zend_mm_shutdown, spec.md §4.1). full
// releases every mapping, including the main chunk, leaving h unusable.
// A partial shutdown (full=false) frees huge blocks and excess cached
// chunks but reinitializes the main chunk and heap state in place, so
// h can serve a fresh unit of work without remapping its first chunk.
// silent is accepted for interface symmetry with the teacher's shutdown
// signature but currently changes nothing: this implementation has no
// leak-reporting pass to suppress.
func (h *Heap) Shutdown(full, silent bool) {
	_ = silent

	list := h.hugeList
	h.hugeList = nil
	for list != nil {
		next := list.next
		chunkFree(unsafe.Pointer(list.ptr), uintptr(list.size))
		list = next
	}

	p := h.mainChunk.next
	for p != h.mainChunk {
		next := p.next
		delete(h.chunksByBase, p.base)
		p.freePages = pagesPerChunk - firstPage
		p.freeTail = firstPage
		p.freeMap = pageBitset{}
		p.freeMap.setRange(0, firstPage)
		p.pageMap = [pagesPerChunk]pageInfo{}
		p.pageMap[0] = lrun(firstPage)
		p.next = h.cachedChunks
		h.cachedChunks = p
		h.chunksCount--
		h.cachedChunksCount++
		p = next
	}
	h.mainChunk.next = h.mainChunk
	h.mainChunk.prev = h.mainChunk

	if full {
		for h.cachedChunks != nil {
			p := h.cachedChunks
			h.cachedChunks = p.next
			chunkFree(unsafe.Pointer(p.base), chunkSize)
		}
		delete(h.chunksByBase, h.mainChunk.base)
		chunkFree(unsafe.Pointer(h.mainChunk.base), chunkSize)
		*h = Heap{}
		return
	}

	h.avgChunksCount = (h.avgChunksCount + float64(h.peakChunksCount)) / 2.0
	for float64(h.cachedChunksCount)+0.9 > h.avgChunksCount && h.cachedChunks != nil {
		p := h.cachedChunks
		h.cachedChunks = p.next
		chunkFree(unsafe.Pointer(p.base), chunkSize)
		h.cachedChunksCount--
	}

	base := h.mainChunk.base
	reporter := h.reporter
	verbose := h.Verbose
	avg := h.avgChunksCount
	cached := h.cachedChunks
	cachedCount := h.cachedChunksCount

	*h = Heap{
		reporter:          reporter,
		Verbose:           verbose,
		avgChunksCount:    avg,
		cachedChunks:      cached,
		cachedChunksCount: cachedCount,
		realSize:          chunkSize,
		realPeak:          chunkSize,
		chunksCount:       1,
		peakChunksCount:   1,
	}
	c := &Chunk{
		base:      base,
		heap:      h,
		freePages: pagesPerChunk - firstPage,
		freeTail:  firstPage,
	}
	c.next = c
	c.prev = c
	c.freeMap.setRange(0, firstPage)
	c.pageMap[0] = lrun(firstPage)
	h.mainChunk = c
	h.chunksByBase = map[uintptr]*Chunk{c.base: c}
}

// Alloc returns size bytes, routed to the small, large, or huge tier by
// size alone (zend_mm_alloc_heap, spec.md §4.1's size-based dispatch).
func (h *Heap) Alloc(size int) unsafe.Pointer {
	if size < 0 {
		corrupt("negative allocation size")
	}
	switch {
	case isSmall(size):
		return h.allocSmall(sizeToBin(uint32(size)))
	case size <= maxLarge:
		return h.allocLarge(size)
	default:
		return h.allocHuge(size)
	}
}

// Free releases a pointer previously returned by Alloc, Calloc,
// Realloc, or one of their relatives. Freeing nil is a no-op
// (zend_mm_free_heap, spec.md §4.1).
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	c := h.chunkOf(ptr)
	if c == nil {
		h.freeHuge(ptr)
		return
	}
	if c.heap != h {
		corrupt("pointer does not belong to this heap")
	}
	pageNum := c.pageOf(ptr)
	info := c.pageMap[pageNum]
	if info.isSRUN() {
		h.freeSmall(ptr, info.binNum())
		return
	}
	pages := info.lrunPages()
	h.size -= pages * pageSize
	h.freePagesRun(c, pageNum, pages, true)
}

// BlockSize reports the usable size of a live allocation (zend_mm_size,
// spec.md §4.1): a small block's bin size, a large run's page-rounded
// size, or a huge block's OS-page-rounded size.
func (h *Heap) BlockSize(ptr unsafe.Pointer) int {
	c := h.chunkOf(ptr)
	if c == nil {
		b, _ := h.findHuge(ptr)
		if b == nil {
			corrupt("heap corrupted: untracked pointer passed to BlockSize")
		}
		return b.size
	}
	pageNum := c.pageOf(ptr)
	info := c.pageMap[pageNum]
	if info.isSRUN() {
		return int(binDataSize[info.binNum()])
	}
	return info.lrunPages() * pageSize
}

// Realloc resizes ptr to size bytes, preserving the first
// min(old size, size) bytes. A nil ptr behaves like Alloc; a zero size
// still returns a valid pointer distinct from freeing (spec.md §4.8).
func (h *Heap) Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	return h.reallocCopy(ptr, size, size)
}

// ReallocKeep is Realloc but copies only the first min(old size,
// copySize) bytes of the old contents when the block moves, matching
// zend_mm_realloc2's use for growing a buffer whose logical length is
// shorter than its allocated capacity (spec.md §4.8).
func (h *Heap) ReallocKeep(ptr unsafe.Pointer, size, copySize int) unsafe.Pointer {
	return h.reallocCopy(ptr, size, copySize)
}

func (h *Heap) reallocCopy(ptr unsafe.Pointer, size, copySize int) unsafe.Pointer {
	if ptr == nil {
		return h.Alloc(size)
	}

	c := h.chunkOf(ptr)
	if c == nil {
		return h.reallocHuge(ptr, size, copySize)
	}

	pageNum := c.pageOf(ptr)
	info := c.pageMap[pageNum]
	var oldSize int
	if info.isSRUN() {
		oldBin := info.binNum()
		oldSize = int(binDataSize[oldBin])
		if isSmall(size) && sizeToBin(uint32(size)) == oldBin {
			return ptr
		}
	} else {
		oldSize = info.lrunPages() * pageSize
		if grown, ok := h.reallocLarge(c, pageNum, info, oldSize, size); ok {
			return grown
		}
	}

	ret := h.Alloc(size)
	copyMem(ret, ptr, minInt(oldSize, copySize))
	h.Free(ptr)
	return ret
}

// reallocLarge handles the in-place large-run fast paths (shrink by
// releasing tail pages, or grow by extending into free pages that
// already follow this run in the same chunk) and reports ok=false when
// neither applies, falling back to naive realloc (spec.md §4.8,
// _zend_mm_realloc_heap's ZEND_MM_IS_LARGE_RUN branch).
func (h *Heap) reallocLarge(c *Chunk, pageNum int, info pageInfo, oldSize, size int) (unsafe.Pointer, bool) {
	if !(size > maxSmallSize && size <= maxLarge) {
		return nil, false
	}
	newSize := roundPage(size)
	if newSize == oldSize {
		return c.pageAddr(pageNum), true
	}
	oldPages := oldSize / pageSize
	newPages := newSize / pageSize
	if newSize < oldSize {
		rest := oldPages - newPages
		h.size -= rest * pageSize
		c.pageMap[pageNum] = lrun(newPages)
		c.freePages += rest
		c.freeMap.resetRange(pageNum+newPages, rest)
		if c.freeTail == pageNum+oldPages {
			c.freeTail = pageNum + newPages
		}
		return c.pageAddr(pageNum), true
	}
	if pageNum+newPages > pagesPerChunk {
		return nil, false
	}
	grow := newPages - oldPages
	if !c.freeMap.isFreeRange(pageNum+oldPages, grow) {
		return nil, false
	}
	h.size += grow * pageSize
	if h.size > h.peak {
		h.peak = h.size
	}
	c.freePages -= grow
	c.freeMap.setRange(pageNum+oldPages, grow)
	c.pageMap[pageNum] = lrun(newPages)
	if end := pageNum + newPages; end > c.freeTail {
		c.freeTail = end
	}
	return c.pageAddr(pageNum), true
}

// reallocHuge handles resizing a huge block, returning ptr unchanged
// when the new size still rounds to the same OS-page count, or
// truncating/extending the mapping in place, falling back to naive
// realloc (copying min(old size, copySize) bytes) when the new size is
// no longer huge or the in-place extension fails (spec.md §4.8's
// huge-block rules, zend_mm_realloc_heap's page_offset==0 branch).
func (h *Heap) reallocHuge(ptr unsafe.Pointer, size, copySize int) unsafe.Pointer {
	b, _ := h.findHuge(ptr)
	if b == nil {
		corrupt("heap corrupted: realloc of untracked huge block")
	}
	oldSize := b.size

	if size > maxLarge {
		newSize := roundOSPage(size)
		switch {
		case newSize == oldSize:
			return ptr
		case newSize < oldSize:
			chunkTruncate(ptr, uintptr(oldSize), uintptr(newSize))
			h.realSize -= oldSize - newSize
			h.size -= oldSize - newSize
			b.size = newSize
			return ptr
		default:
			if h.realSize+(newSize-oldSize) > h.limit {
				if h.gc() > 0 && h.realSize+(newSize-oldSize) <= h.limit {
					// pass
				} else if !h.overflow {
					h.fatal(LimitExceeded, "allowed memory size exhausted")
					return nil
				}
			}
			if chunkExtend(ptr, uintptr(oldSize), uintptr(newSize)) {
				h.realSize += newSize - oldSize
				if h.realSize > h.realPeak {
					h.realPeak = h.realSize
				}
				h.size += newSize - oldSize
				if h.size > h.peak {
					h.peak = h.size
				}
				b.size = newSize
				return ptr
			}
		}
	}

	ret := h.Alloc(size)
	copyMem(ret, ptr, minInt(oldSize, copySize))
	h.Free(ptr)
	return ret
}

// Calloc allocates n*size bytes, zeroed, reporting IntegerOverflow
// instead of wrapping silently (spec.md §4.8, §7).
func (h *Heap) Calloc(n, size int) unsafe.Pointer {
	total, ok := mulOverflows(n, size)
	if !ok {
		h.fatal(IntegerOverflow, "Calloc size overflow")
		return nil
	}
	p := h.Alloc(total)
	if p != nil {
		zeroMem(p, total)
	}
	return p
}

// Strdup copies s into a fresh, NUL-terminated allocation.
func (h *Heap) Strdup(s string) unsafe.Pointer {
	return h.Strndup(s, len(s))
}

// Strndup copies at most n bytes of s into a fresh, NUL-terminated
// allocation, the way the teacher's runtime copies a Go string into a
// C-compatible buffer at cgo boundaries.
func (h *Heap) Strndup(s string, n int) unsafe.Pointer {
	if n > len(s) {
		n = len(s)
	}
	p := h.Alloc(n + 1)
	dst := unsafe.Slice((*byte)(p), n+1)
	copy(dst, s[:n])
	dst[n] = 0
	return p
}

// SafeAlloc allocates nmemb*size + overheadSize bytes, reporting
// IntegerOverflow for either multiplication or the final addition
// (spec.md §4.8's safe-multiply-then-add helper, zend_mm's
// _safe_malloc family).
func (h *Heap) SafeAlloc(nmemb, size, overheadSize int) unsafe.Pointer {
	total, ok := mulOverflows(nmemb, size)
	if !ok {
		h.fatal(IntegerOverflow, "SafeAlloc size overflow")
		return nil
	}
	total, ok = addOverflows(total, overheadSize)
	if !ok {
		h.fatal(IntegerOverflow, "SafeAlloc size overflow")
		return nil
	}
	return h.Alloc(total)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func mulOverflows(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/a != b || a < 0 || b < 0 {
		return 0, false
	}
	return r, true
}

func addOverflows(a, b int) (int, bool) {
	r := a + b
	if r < a || a < 0 || b < 0 {
		return 0, false
	}
	return r, true
}

func copyMem(dst, src unsafe.Pointer, n int) {
	if n <= 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

func zeroMem(p unsafe.Pointer, n int) {
	if n <= 0 {
		return
	}
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}
