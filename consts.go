// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "os"

const (
	// pageSize is the allocator's internal page granularity (spec.md §6).
	pageSize = 4096
	// chunkSize is the fixed compile-time chunk size, 2MiB.
	chunkSize = 2 << 20
	// pagesPerChunk is chunkSize/pageSize.
	pagesPerChunk = chunkSize / pageSize
	// firstPage is the number of pages reserved at the start of every
	// chunk for header bookkeeping (spec.md §3, §6: "derive FIRST_PAGE
	// from sizeof(chunk_header) rounded up to a page"). This
	// implementation keeps chunk metadata in ordinary Go-managed
	// memory rather than overlaid on the raw mapping itself (see
	// DESIGN.md - the Chunk/GC-safety note), so nothing but the
	// invariant's page-0-is-reserved bookkeeping needs the space; one
	// page is the minimum and exact value.
	firstPage = 1
	// maxLarge is the large-run ceiling: a chunk's payload capacity.
	maxLarge = chunkSize - firstPage*pageSize
)

// osPageSize is discovered at startup, defaulting to 4096 per spec.md
// §6, the same way the runtime discovers physPageSize from the kernel
// instead of assuming a constant.
var osPageSize = func() int {
	if n := os.Getpagesize(); n > 0 {
		return n
	}
	return pageSize
}()

// roundPage rounds n up to a multiple of pageSize.
func roundPage(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// roundOSPage rounds n up to a multiple of the OS page size, used for
// huge-block sizing (spec.md §4.5).
func roundOSPage(n int) int {
	p := osPageSize
	return (n + p - 1) &^ (p - 1)
}
