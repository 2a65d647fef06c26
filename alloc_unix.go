//go:build unix && !linux

// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxHints bounds the number of hinted mmap calls before giving up.
const maxHints = 4096

func allocExec(size, near uintptr) (uintptr, error) {
	length := roundPage(size)
	if !needsNear(near) {
		p, err := unix.MmapPtr(-1, 0, nil, length, execProt, unix.MAP_PRIVATE|unix.MAP_ANON)
		return uintptr(p), err
	}
	var (
		found uintptr
		tries int
	)
	probeNear(near, length, func(addr uintptr) bool {
		tries++
		if tries > maxHints {
			return true
		}
		p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), length, execProt, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return false
		}
		if !reaches(uintptr(p), length, near) {
			_ = unix.MunmapPtr(p, length)
			return false
		}
		found = uintptr(p)
		return true
	})
	if found == 0 {
		return 0, errors.Errorf("no free region within rel32 reach of %#x", near)
	}
	return found, nil
}

func reaches(addr, length, near uintptr) bool {
	lo, hi := addr, addr+length
	if near > lo {
		return near-lo < nearReach
	}
	return hi-near < nearReach
}
