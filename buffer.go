// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// Buffer is one read/write/execute region hosting the trampolines of many
// hooks. Hooks hold views into it; the region is freed once the buffer is
// closed and every hook made into it has been closed.
type Buffer struct {
	mu     sync.Mutex
	addr   uintptr
	size   int
	used   int
	refs   int
	closed bool
}

// NewBuffer allocates size bytes of executable memory. On 64-bit hosts a
// non-zero near places the region within rel32 reach of that address.
func NewBuffer(size int, near uintptr) (*Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("negative buffer size %d", size)
	}
	b := &Buffer{size: size}
	if size == 0 {
		return b, nil
	}
	addr, err := allocExec(uintptr(size), near)
	if err != nil {
		return nil, errors.Wrapf(ErrAllocation, "%d bytes near %#x: %v", size, near, err)
	}
	b.addr = addr
	logger.WithFields(log.Fields{
		"addr": hexAddr(addr),
		"size": size,
		"near": hexAddr(near),
	}).Debug("buffer allocated")
	return b, nil
}

// Addr returns the start of the region.
func (b *Buffer) Addr() uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Len returns the capacity in bytes.
func (b *Buffer) Len() int { return b.size }

// Used returns the bytes taken by trampolines so far.
func (b *Buffer) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// place reserves n bytes, fills them with the code build returns for their
// address and takes a reference for the hook that owns them.
func (b *Buffer) place(n int, build func(pc uintptr) ([]byte, error)) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	if b.used+n > b.size {
		return 0, errors.Wrapf(ErrBufferFull, "need %d, %d of %d used", n, b.used, b.size)
	}
	pc := b.addr + uintptr(b.used)
	code, err := build(pc)
	if err != nil {
		return 0, err
	}
	if len(code) != n {
		return 0, errors.Errorf("trampoline is %d bytes, reserved %d", len(code), n)
	}
	copy(makeSlice(pc, uintptr(n)), code)
	flushICache(pc, uintptr(n))
	b.used += n
	b.refs++
	return pc, nil
}

func (b *Buffer) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs--
	if b.closed && b.refs == 0 {
		return b.free()
	}
	return nil
}

// Close frees the region now if no hook uses it, otherwise when the last
// hook is closed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.refs == 0 {
		return b.free()
	}
	return nil
}

func (b *Buffer) free() error {
	if b.addr == 0 {
		return nil
	}
	addr := b.addr
	b.addr = 0
	logger.WithField("addr", hexAddr(addr)).Debug("buffer freed")
	return freeExec(addr, uintptr(b.size))
}

type hexAddr uintptr

func (a hexAddr) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}
