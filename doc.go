// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slabheap implements a process-wide, single-threaded slab-and-page
// memory manager for runtimes that perform bulk teardown at the end of each
// unit of work.
//
// This was originally based on the Zend Memory Manager (PHP's request-scoped
// allocator), but is restructured around an explicit heap handle.
// http://php.net
//
// The allocator works in three tiers:
//
//	small slabs: requests up to 3072 bytes round up to one of 30 size
//		classes, each served from a "bin" - a 1-8 page run sliced into
//		equal slots and threaded onto a free-slot list.
//	large runs: requests up to a chunk's payload round up to whole
//		pages and are served by a best-fit scan of a per-chunk bitmap.
//	huge blocks: anything larger is mapped directly from the OS and
//		tracked in a linked list.
//
// The allocator's data structures are:
//
//	Heap: the process-wide anchor. Owns a ring of chunks, a huge-block
//		list, and 30 free-slot lists (one per size class).
//	Chunk: a 2MiB, 2MiB-aligned region obtained from the OS. Holds a
//		512-bit page bitmap and a 512-entry page-info table.
//	bin: a contiguous run of pages inside a chunk, carved into slots of
//		one size class.
//
// Allocating a small object proceeds up a short hierarchy:
//
//	1. If the size class's free-slot list is non-empty, pop the head.
//	2. Otherwise carve a fresh bin out of freshly allocated pages and
//	   thread its slots onto the free list.
//	3. Page allocation walks the chunk ring for a best-fit run; if none
//	   fits, a cached or freshly mapped chunk is linked in.
//
// Freeing a small object pushes it back onto its class's free list.
// Nothing is reclaimed eagerly - GC (see gc.go) periodically discovers
// fully-empty bins and returns their pages, and fully-empty chunks are
// cached or unmapped.
//
// The allocator targets a single-threaded execution model; none of its
// internal state is synchronized. Concurrent use from multiple goroutines
// without external locking is undefined behavior.
package slabheap
