// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var procFlushInstructionCache = windows.NewLazySystemDLL("kernel32.dll").NewProc("FlushInstructionCache")

func allocExec(size, near uintptr) (uintptr, error) {
	length := roundPage(size)
	const flags = windows.MEM_COMMIT | windows.MEM_RESERVE
	if !needsNear(near) {
		return windows.VirtualAlloc(0, length, flags, windows.PAGE_EXECUTE_READWRITE)
	}
	var found uintptr
	probeNear(near, length, func(addr uintptr) bool {
		p, err := windows.VirtualAlloc(addr, length, flags, windows.PAGE_EXECUTE_READWRITE)
		if err != nil || p == 0 {
			return false
		}
		found = p
		return true
	})
	if found == 0 {
		return 0, errors.Errorf("no free region within rel32 reach of %#x", near)
	}
	return found, nil
}

func freeExec(addr, size uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// protectPages makes the code at addr writable one page at a time, since
// VirtualProtect only reports the old protection of the first page.
func protectPages(addr, size uintptr) ([]pageProt, error) {
	start, length := pageBounds(addr, size)
	var saved []pageProt
	for p := start; p < start+length; p += pageSize {
		var old uint32
		if err := windows.VirtualProtect(p, pageSize, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
			_ = reProtectPages(saved)
			return nil, err
		}
		saved = append(saved, pageProt{addr: p, prot: old})
	}
	return saved, nil
}

func reProtectPages(saved []pageProt) error {
	for _, p := range saved {
		var old uint32
		if err := windows.VirtualProtect(p.addr, pageSize, p.prot, &old); err != nil {
			return err
		}
	}
	return nil
}

func flushICache(addr, size uintptr) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
}
