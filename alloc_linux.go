// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func allocExec(size, near uintptr) (uintptr, error) {
	length := roundPage(size)
	if !needsNear(near) {
		p, err := unix.MmapPtr(-1, 0, nil, length, execProt, unix.MAP_PRIVATE|unix.MAP_ANON)
		return uintptr(p), err
	}
	var found uintptr
	probeNear(near, length, func(addr uintptr) bool {
		p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), length, execProt,
			unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED_NOREPLACE)
		if err != nil {
			return false
		}
		// kernels before 4.17 treat the flag as a hint
		if uintptr(p) != addr {
			_ = unix.MunmapPtr(p, length)
			return false
		}
		found = addr
		return true
	})
	if found == 0 {
		return 0, errors.Errorf("no free region within rel32 reach of %#x", near)
	}
	return found, nil
}
