// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"unsafe"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/hookengine/internal/insn"
)

// Prep pairs a hook with the detour CreateHooks sets it to.
type Prep struct {
	Hook   *Hook
	Detour uintptr
}

// ObserverPrep pairs an observer hook with its observer and context.
type ObserverPrep struct {
	Hook     *ObserverHook
	Observer uintptr
	Context  unsafe.Pointer
}

// BatchSize returns the buffer size CreateHooks needs for preps. It fails
// when the targets lie too far apart for one buffer to reach them all.
func BatchSize(preps []Prep) (int, error) {
	total := 0
	targets := make([]uintptr, len(preps))
	for i, p := range preps {
		s, err := p.Hook.prologue()
		if err != nil {
			return 0, errors.Wrapf(err, "hook %d", i)
		}
		total += slotSize(s, 0)
		targets[i] = p.Hook.target
	}
	if err := batchSpan(targets, total); err != nil {
		return 0, err
	}
	return total, nil
}

// ObserverBatchSize returns the buffer size CreateObserverHooks needs.
func ObserverBatchSize(preps []ObserverPrep) (int, error) {
	total := 0
	targets := make([]uintptr, len(preps))
	for i, p := range preps {
		s, err := p.Hook.prologue()
		if err != nil {
			return 0, errors.Wrapf(err, "hook %d", i)
		}
		total += slotSize(s, observerPrefixSize(p.Hook.mode))
		targets[i] = p.Hook.target
	}
	if err := batchSpan(targets, total); err != nil {
		return 0, err
	}
	return total, nil
}

// CreateHooks sizes one buffer for all preps, then makes and sets each hook
// in order. Sizing failures leave everything untouched. A later failure
// leaves the hooks before it installed and returns the buffer with the
// error; the process should treat that as fatal.
func CreateHooks(preps []Prep) (*Buffer, error) {
	size, err := BatchSize(preps)
	if err != nil {
		return nil, err
	}
	targets := make([]uintptr, len(preps))
	for i, p := range preps {
		targets[i] = p.Hook.target
	}
	buf, err := newBatchBuffer(size, targets)
	if err != nil {
		return nil, err
	}
	for i, p := range preps {
		if _, err := p.Hook.Make(buf); err != nil {
			return buf, errors.Wrapf(err, "hook %d", i)
		}
		if err := p.Hook.Set(p.Detour); err != nil {
			return buf, errors.Wrapf(err, "hook %d", i)
		}
	}
	logger.WithFields(log.Fields{"hooks": len(preps), "size": size}).Debug("batch created")
	return buf, nil
}

// CreateObserverHooks is CreateHooks for observer hooks.
func CreateObserverHooks(preps []ObserverPrep) (*Buffer, error) {
	size, err := ObserverBatchSize(preps)
	if err != nil {
		return nil, err
	}
	targets := make([]uintptr, len(preps))
	for i, p := range preps {
		targets[i] = p.Hook.target
	}
	buf, err := newBatchBuffer(size, targets)
	if err != nil {
		return nil, err
	}
	for i, p := range preps {
		if _, err := p.Hook.Make(buf, p.Observer, p.Context); err != nil {
			return buf, errors.Wrapf(err, "hook %d", i)
		}
		if err := p.Hook.Set(); err != nil {
			return buf, errors.Wrapf(err, "hook %d", i)
		}
	}
	logger.WithFields(log.Fields{"hooks": len(preps), "size": size}).Debug("observer batch created")
	return buf, nil
}

// batchReachChecked reports whether batch targets need to reach the
// buffer with rel32 fields. 32-bit displacements wrap.
func batchReachChecked() bool {
	return insn.HostMode() == insn.Mode64
}

// batchSpan fails when no region of size bytes can sit within rel32 reach
// of every target.
func batchSpan(targets []uintptr, size int) error {
	if len(targets) == 0 || !batchReachChecked() {
		return nil
	}
	lo, hi := targets[0], targets[0]
	for _, t := range targets[1:] {
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	if hi-lo+uintptr(size) >= nearReach {
		return errors.Wrapf(insn.ErrOutOfRange, "targets span %#x-%#x", lo, hi)
	}
	return nil
}

// bufferReaches fails when a target cannot jump to, or be jumped back to
// from, any byte of the region [addr, addr+size).
func bufferReaches(addr uintptr, size int, targets []uintptr) error {
	if !batchReachChecked() {
		return nil
	}
	end := addr + uintptr(size)
	for i, t := range targets {
		if !rel32Reach(t, addr) || !rel32Reach(t, end) {
			return errors.Wrapf(insn.ErrOutOfRange, "hook %d: %#x -> %#x", i, t, addr)
		}
	}
	return nil
}

// rel32Reach reports whether a jump at either address can reach the other,
// leaving room for the jump and the bytes it displaces.
func rel32Reach(a, b uintptr) bool {
	d := int64(a - b)
	if d < 0 {
		d = -d
	}
	return d < nearReach
}

// newBatchBuffer allocates a buffer near the first target and checks that
// every target reaches it before any hook is made.
func newBatchBuffer(size int, targets []uintptr) (*Buffer, error) {
	if err := batchSpan(targets, size); err != nil {
		return nil, err
	}
	var near uintptr
	if len(targets) > 0 && batchReachChecked() {
		near = targets[0]
	}
	buf, err := NewBuffer(size, near)
	if err != nil {
		return nil, err
	}
	if err := bufferReaches(buf.Addr(), size, targets); err != nil {
		_ = buf.Close()
		return nil, err
	}
	return buf, nil
}
