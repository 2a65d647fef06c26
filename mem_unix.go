//go:build unix

// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	execProt    = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	defaultProt = unix.PROT_READ | unix.PROT_EXEC
)

func mprotect(addr, size uintptr, prot int) error {
	start, length := pageBounds(addr, size)
	return unix.Mprotect(makeSlice(start, length), prot)
}

// protectPages makes the code at addr writable and returns the protection
// each page had before.
func protectPages(addr, size uintptr) ([]pageProt, error) {
	start, length := pageBounds(addr, size)
	saved, err := pageProts(start, length)
	if err != nil {
		return nil, err
	}
	if err := mprotect(start, length, execProt); err != nil {
		return nil, err
	}
	return saved, nil
}

// reProtectPages puts back what protectPages saved.
func reProtectPages(saved []pageProt) error {
	for _, p := range saved {
		if err := mprotect(p.addr, pageSize, int(p.prot)); err != nil {
			return err
		}
	}
	return nil
}

// x86 keeps instruction fetch coherent with stores on the same core and
// across cores once the jump is written.
func flushICache(addr, size uintptr) {}

func freeExec(addr, size uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), roundPage(size))
}
