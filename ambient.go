// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import "unsafe"

// defaultHeap is the package-level heap backing the ambient API, lazily
// started on first use. spec.md §9's design note allows for "a clean
// re-architecture [that] wraps this in an explicit heap handle"; this
// file is the thin convenience layer on top of that handle for callers
// who want a single process-wide heap and never touch *Heap directly,
// the same relationship cgo-facing C.malloc wrappers have to a
// language's real allocator.
var defaultHeap *Heap

func ensureDefault() *Heap {
	if defaultHeap == nil {
		defaultHeap = Startup()
	}
	return defaultHeap
}

// Alloc allocates size bytes from the ambient heap.
func Alloc(size int) unsafe.Pointer { return ensureDefault().Alloc(size) }

// Free releases ptr back to the ambient heap.
func Free(ptr unsafe.Pointer) { ensureDefault().Free(ptr) }

// Realloc resizes ptr to size bytes on the ambient heap.
func Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	return ensureDefault().Realloc(ptr, size)
}

// Calloc allocates n*size zeroed bytes from the ambient heap.
func Calloc(n, size int) unsafe.Pointer { return ensureDefault().Calloc(n, size) }

// Strdup copies s into a fresh NUL-terminated allocation on the
// ambient heap.
func Strdup(s string) unsafe.Pointer { return ensureDefault().Strdup(s) }

// BlockSize reports the usable size of ptr as tracked by the ambient heap.
func BlockSize(ptr unsafe.Pointer) int { return ensureDefault().BlockSize(ptr) }

// GC runs a collection pass over the ambient heap, returning bytes reclaimed.
func GC() int { return ensureDefault().GC() }

// SetLimit installs a new real-memory ceiling on the ambient heap.
func SetLimit(n int) { ensureDefault().SetLimit(n) }

// Usage reports the ambient heap's current size/realSize counters.
func Usage() (size, realSize int) { return ensureDefault().Usage() }

// Shutdown tears down the ambient heap, as Heap.Shutdown. A later call
// to any ambient function starts a fresh heap.
func Shutdown(full, silent bool) {
	if defaultHeap == nil {
		return
	}
	defaultHeap.Shutdown(full, silent)
	if full {
		defaultHeap = nil
	}
}
