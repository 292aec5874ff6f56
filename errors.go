// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slabheap

import (
	"fmt"
	"os"
)

// ErrorKind classifies the fatal conditions a Heap can hit. None of
// these are returned as per-call error values (spec.md §7) - allocation
// failure is fatal by design, the same way the runtime's own throw()
// never returns to its caller.
type ErrorKind int

const (
	// LimitExceeded: the allocation would push real usage above the
	// configured limit, even after a GC sweep.
	LimitExceeded ErrorKind = iota
	// OutOfMemory: the OS refused to map memory, twice.
	OutOfMemory
	// IntegerOverflow: size arithmetic in Calloc/Strdup/SafeAlloc overflowed.
	IntegerOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case LimitExceeded:
		return "LimitExceeded"
	case OutOfMemory:
		return "OutOfMemory"
	case IntegerOverflow:
		return "IntegerOverflow"
	default:
		return "unknown"
	}
}

// Reporter is invoked when the heap hits a fatal, non-recoverable
// condition. Implementations are presumed not to return; spec.md §9
// models the original's longjmp-out-of-bailout-handler as a
// caller-supplied callback for languages without non-local control
// transfer. If Fatal does return, the heap terminates the process
// itself so invariants are never violated by a reporter that declines
// to stop execution.
type Reporter interface {
	Fatal(kind ErrorKind, msg string)
}

// stderrReporter is the default Reporter: one line to stderr, then
// exit. This mirrors the teacher's own fatal path (runtime's throw(),
// which prints a diagnostic and calls exit(2)) rather than reaching
// for a structured logging package - nothing at this layer of the
// teacher's codebase imports one.
type stderrReporter struct{}

func (stderrReporter) Fatal(kind ErrorKind, msg string) {
	fmt.Fprintf(os.Stderr, "slabheap: fatal: %s: %s\n", kind, msg)
	os.Exit(255)
}

// fatal routes through h.reporter, guarding re-entrancy with the
// overflow flag (spec.md §3, §5): if reporting itself triggers another
// allocation that would also exceed the limit, that nested call must
// not recurse into the reporter again.
func (h *Heap) fatal(kind ErrorKind, msg string) {
	if h.overflow {
		// Already reporting one fatal error; don't recurse. The
		// process is going down via the outer call's reporter.
		return
	}
	h.overflow = true
	h.reporter.Fatal(kind, msg)
	// The reporter returned instead of stopping execution.
	os.Exit(255)
}

// corrupt panics with a diagnostic and is used for the HeapCorruption
// class: an internal invariant check failed (bad back-pointer,
// unexpected page-info state, double free). Unlike LimitExceeded/
// OutOfMemory/IntegerOverflow this is never routed through the
// injected Reporter - it is a programming error in the allocator or
// its caller, not a resource condition, and spec.md §7 calls for
// "panic... and terminate the process" unconditionally.
func corrupt(format string, args ...any) {
	panic(fmt.Sprintf("slabheap: heap corrupted: "+format, args...))
}

// debugPrintf writes a non-fatal bookkeeping line to stderr, gated by
// Heap.Verbose. This is the teacher's own terse print-to-stderr idiom
// (runtime's print()) rather than a structured logger, used only for
// informational chunk/cache churn - never on an error path.
func debugPrintf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "slabheap: "+format, args...)
}
