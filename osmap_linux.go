// Copyright 2024 The Slabheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package slabheap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapFixed issues a raw anonymous mmap at addr with the caller's prot
// and flags. With MAP_FIXED it replaces whatever is already mapped in
// that range, so chunkExtend probes the range before calling it.
// golang.org/x/sys/unix's Mmap helper always lets the kernel choose the
// address; a fixed-address mapping needs the raw syscall, the same way
// the runtime's own mmap wrapper (mem_linux.go's mmap_fixed, built on
// top of the runtime-internal mmap linkname) drops to a lower level for
// this one case.
func mmapFixed(addr uintptr, length uintptr, prot, flags int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// The runtime's own mem_linux.go talks to mmap/munmap/madvise/mincore
// through linknamed assembly stubs, because it runs below the layer
// where any package (even the standard library) can be imported. A
// normal Go program reaches the identical syscalls through
// golang.org/x/sys/unix, which is the one domain dependency this
// repository keeps from its teacher's module graph (see SPEC_FULL.md
// §1 and DESIGN.md).

// chunkAlloc obtains a region of exactly size bytes aligned to align,
// following sysReserveAligned in malloc.go: map size+align, then trim
// the unaligned head and the surplus tail. Returns nil on failure.
func chunkAlloc(size, align uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	raw, err := unix.Mmap(-1, 0, int(size+align), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := alignUp(base, align)
	if head := aligned - base; head > 0 {
		chunkFree(unsafe.Pointer(base), head)
	}
	tailStart := aligned + size
	if tail := (base + size + align) - tailStart; tail > 0 {
		chunkFree(unsafe.Pointer(tailStart), tail)
	}
	p := unsafe.Pointer(aligned)
	madviseHuge(p, size)
	return p
}

// chunkFree unmaps a region previously returned by chunkAlloc (or the
// trimmed remainder left by chunkTruncate).
func chunkFree(ptr unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}
	// unix.Munmap only accepts a whole slice exactly as unix.Mmap
	// returned it, so sub-range and trimmed unmaps use the raw syscall.
	unix.Syscall(unix.SYS_MUNMAP, uintptr(ptr), size, 0)
}

// chunkTruncate unmaps the tail [ptr+newSize, ptr+oldSize) of a
// mapping, used by huge-block in-place shrink (spec.md §4.5, §4.8).
func chunkTruncate(ptr unsafe.Pointer, oldSize, newSize uintptr) {
	if newSize >= oldSize {
		return
	}
	tailPtr := unsafe.Pointer(uintptr(ptr) + newSize)
	chunkFree(tailPtr, oldSize-newSize)
}

// chunkExtend attempts to grow a mapping in place by mapping the tail
// region [ptr+oldSize, ptr+newSize) at a fixed address. It probes with
// mincore first (mirroring mem_linux.go's addrspace_free helper) so a
// mapping that would displace existing memory fails cleanly instead of
// silently clobbering it - MAP_FIXED would otherwise happily overwrite
// whatever is already there.
func chunkExtend(ptr unsafe.Pointer, oldSize, newSize uintptr) bool {
	if newSize <= oldSize {
		return true
	}
	tailPtr := unsafe.Pointer(uintptr(ptr) + oldSize)
	tailLen := newSize - oldSize
	if !addressSpaceFree(tailPtr, tailLen) {
		return false
	}
	err := mmapFixed(uintptr(tailPtr), tailLen, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED)
	if err != nil {
		return false
	}
	madviseHuge(tailPtr, tailLen)
	return true
}

// addressSpaceFree reports whether every page in [v, v+n) is unmapped,
// the same page-by-page mincore loop mem_linux.go's addrspace_free
// uses (mincore returns ENOMEM for an unmapped page). Each probe covers
// one OS page and fills a one-byte result vector.
func addressSpaceFree(v unsafe.Pointer, n uintptr) bool {
	vec := make([]byte, 1)
	for off := uintptr(0); off < n; off += uintptr(osPageSize) {
		p := unsafe.Pointer(uintptr(v) + off)
		b := unsafe.Slice((*byte)(p), osPageSize)
		err := unix.Mincore(b, vec)
		if err == unix.ENOMEM {
			continue
		}
		if err != nil {
			// Not a multiple of the physical page size, or some
			// other transient error; be conservative and treat the
			// page as mapped.
			return false
		}
		return false
	}
	return true
}

// madviseHuge hints that a region is a good transparent-huge-page
// candidate, mirroring sysHuge's MADV_HUGEPAGE call. Best effort: a
// failure here never fails the allocation.
func madviseHuge(p unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(p), size)
	_ = unix.Madvise(b, unix.MADV_HUGEPAGE)
}

// alignUp rounds v up to a multiple of align, which must be a power of two.
func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
