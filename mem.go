// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"os"
	"unsafe"
)

var pageSize uintptr

func init() {
	pageSize = uintptr(os.Getpagesize())
}

func makeSlice(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// pageBounds returns the page-aligned range covering [addr, addr+size).
func pageBounds(addr, size uintptr) (start, length uintptr) {
	start = addr &^ (pageSize - 1)
	length = roundPage(addr+size) - start
	return
}

// pageProt is the protection a page had before it was made writable.
type pageProt struct {
	addr uintptr
	prot uint32
}

func roundPage(n uintptr) uintptr {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

const (
	// allocGranularity is the probing step, also the Windows allocation
	// granularity.
	allocGranularity = 64 << 10
	// minProbeAddr keeps probes above the usual mmap_min_addr.
	minProbeAddr = 0x10000
	// nearReach bounds the distance between a probed region and the
	// page it must reach with rel32 fields.
	nearReach = 1<<31 - 2*allocGranularity
)

// needsNear reports whether a region must be placed within rel32 reach of
// near. 32-bit displacements wrap, so only 64-bit hosts care.
func needsNear(near uintptr) bool {
	return near != 0 && unsafe.Sizeof(near) == 8
}

// probeNear offers try the addresses around near, nearest first and
// alternating above and below, such that a region of size bytes placed at
// the address stays within rel32 reach of near.
func probeNear(near, size uintptr, try func(addr uintptr) bool) bool {
	if size >= nearReach {
		return false
	}
	base := near &^ (allocGranularity - 1)
	limit := uintptr(nearReach) - size
	for off := uintptr(allocGranularity); off < limit; off += allocGranularity {
		if hi := base + off; hi > base && try(hi) {
			return true
		}
		if base > off && base-off >= minProbeAddr && try(base-off) {
			return true
		}
	}
	return false
}
