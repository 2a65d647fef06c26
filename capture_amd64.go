// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"sync/atomic"
	"unsafe"
)

// Capture is the context CaptureObserver expects. Calls is incremented
// atomically on every observed call and Last receives the snapshot.
// Concurrent calls may interleave their writes to Last.
type Capture struct {
	Calls uint64
	Last  Registers
}

// Count returns Calls with an atomic load.
func (c *Capture) Count() uint64 {
	return atomic.LoadUint64(&c.Calls)
}

// CaptureObserver returns the address of a built-in observer that records
// into the *Capture passed as the hook context.
func CaptureObserver() uintptr {
	return captureObserverPC()
}

// ObserveCapture hooks target with CaptureObserver recording into c.
func ObserveCapture[T any](target T, c *Capture) (*ObserverHook, error) {
	return Observe(target, CaptureObserver(), unsafe.Pointer(c))
}

func captureObserverPC() uintptr

// captureObserver is only entered from an observer prefix, with the
// snapshot in DI and the *Capture in SI.
func captureObserver()
