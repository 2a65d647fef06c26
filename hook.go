// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"runtime"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/hookengine/internal/insn"
)

// Patch is the part of the hook lifecycle shared by Hook and ObserverHook.
type Patch interface {
	Target() uintptr
	Trampoline() uintptr
	Installed() bool
	Reset() error
	Close() error
}

var (
	// hooks installed, with target addresses as keys
	hooks = make(map[uintptr]Patch)
	// protect the hooks map
	lock sync.Mutex
)

var (
	// ErrDoubleHook means the target is already patched by another hook
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means no hook is installed at the address
	ErrHookNotFound = errors.New("hook not found")
	// ErrDifferentType means target and detour are of different types
	ErrDifferentType = errors.New("inputs are of different type")
	// ErrInputType means inputs are not func type
	ErrInputType = errors.New("inputs are not func type")
	// ErrNotMade means the trampoline has not been built yet
	ErrNotMade = errors.New("hook not made")
	// ErrMade means the trampoline has already been built
	ErrMade = errors.New("hook already made")
	// ErrInstalled means the hook is currently set
	ErrInstalled = errors.New("hook installed")
	// ErrClosed means the hook or buffer was closed
	ErrClosed = errors.New("closed")
	// ErrAllocation means no executable memory could be obtained
	ErrAllocation = errors.New("cannot allocate executable memory")
	// ErrProtection means page protection could not be changed; the
	// target is in an unknown state and the process should not continue
	ErrProtection = errors.New("cannot change page protection")
	// ErrBufferFull means the buffer has no room for another trampoline
	ErrBufferFull = errors.New("buffer full")
	// ErrUnsupportedArch means the running program is not x86
	ErrUnsupportedArch = errors.New("hooking requires 386 or amd64")
)

// trapByte fills the overwritten prologue after the jump, so a thread that
// was already past the jump faults instead of running stale code.
const trapByte = 0xCC

// codeWindow is the most a prologue sizing can read: four bytes short of a
// jump followed by the longest instruction.
const codeWindow = insn.JmpSize - 1 + insn.MaxInstLen

type patch struct {
	owner      Patch
	target     uintptr
	mode       insn.Mode
	buf        *Buffer
	original   []byte
	trampoline uintptr
	size       int
	installed  bool
	closed     bool
}

// Hook redirects a function to a detour and keeps a trampoline that
// behaves like the unpatched function.
type Hook struct {
	patch
	detour uintptr
}

// New returns an unmade hook for the function at target.
func New(target uintptr) *Hook {
	h := &Hook{}
	h.init(h, target)
	return h
}

// NewFunc returns an unmade hook for a Go function value.
func NewFunc(fn any) (*Hook, error) {
	pc := FuncPC(fn)
	if pc == 0 {
		return nil, ErrInputType
	}
	return New(pc), nil
}

// Make builds the trampoline into buf. It does not touch the target.
func (h *Hook) Make(buf *Buffer) (int, error) {
	return h.make(buf, 0, nil)
}

// Set patches the target with a jump to detour.
func (h *Hook) Set(detour uintptr) error {
	if err := h.install(detour); err != nil {
		return err
	}
	h.detour = detour
	return nil
}

// Detour returns the address the target jumps to while installed.
func (h *Hook) Detour() uintptr {
	if !h.installed {
		return 0
	}
	return h.detour
}

func (p *patch) init(owner Patch, target uintptr) {
	p.owner = owner
	p.target = target
	p.mode = insn.HostMode()
}

// Target returns the address of the hooked function.
func (p *patch) Target() uintptr { return p.target }

// Trampoline returns the address that runs the function's original code.
func (p *patch) Trampoline() uintptr { return p.trampoline }

// Size returns the bytes the hook occupies in its buffer.
func (p *patch) Size() int { return p.size }

// Installed reports whether the target is currently patched.
func (p *patch) Installed() bool { return p.installed }

// Original returns a copy of the prologue bytes the patch overwrites.
func (p *patch) Original() []byte {
	if p.original == nil {
		return nil
	}
	return append([]byte(nil), p.original...)
}

func hostSupported() error {
	switch runtime.GOARCH {
	case "386", "amd64":
		return nil
	}
	return errors.Wrap(ErrUnsupportedArch, runtime.GOARCH)
}

// prologue sizes the live code at the target.
func (p *patch) prologue() (insn.Sizes, error) {
	if err := hostSupported(); err != nil {
		return insn.Sizes{}, err
	}
	return insn.SizePrologue(makeSlice(p.target, codeWindow), p.target, p.mode)
}

func (p *patch) make(buf *Buffer, prefixLen int, prefix prefixFunc) (int, error) {
	switch {
	case p.closed:
		return 0, ErrClosed
	case p.installed:
		return 0, ErrInstalled
	case p.buf != nil:
		return 0, ErrMade
	case buf == nil:
		return 0, errors.New("nil buffer")
	}
	sizes, err := p.prologue()
	if err != nil {
		return 0, err
	}
	code := makeSlice(p.target, uintptr(sizes.Original))
	n := slotSize(sizes, prefixLen)
	pc, err := buf.place(n, func(pc uintptr) ([]byte, error) {
		return buildTrampoline(pc, code, p.target, p.mode, sizes, prefix)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "%#x", p.target)
	}
	p.buf = buf
	p.original = makeSlice(pc, uintptr(sizes.Original))
	p.trampoline = pc + uintptr(sizes.Original)
	p.size = n
	logger.WithFields(log.Fields{
		"target":     hexAddr(p.target),
		"trampoline": hexAddr(p.trampoline),
		"size":       sizes.Original,
		"relocated":  sizes.Relocated,
	}).Debug("made")
	return n, nil
}

func (p *patch) install(dest uintptr) error {
	switch {
	case p.closed:
		return ErrClosed
	case p.buf == nil:
		return ErrNotMade
	case p.installed:
		return ErrInstalled
	}
	code, err := patchBytes(p.target, dest, len(p.original), p.mode)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()
	if other, ok := hooks[p.target]; ok && other != p.owner {
		return errors.Wrapf(ErrDoubleHook, "%#x", p.target)
	}
	// early bucket allocation, the target may be an allocator
	hooks[p.target] = p.owner
	if err := writeCode(p.target, code); err != nil {
		delete(hooks, p.target)
		return err
	}
	p.installed = true
	logger.WithFields(log.Fields{
		"target": hexAddr(p.target),
		"dest":   hexAddr(dest),
	}).Debug("set")
	return nil
}

// Reset restores the original prologue. It is a no-op when not installed.
func (p *patch) Reset() error {
	if !p.installed {
		return nil
	}
	lock.Lock()
	defer lock.Unlock()
	if err := writeCode(p.target, p.original); err != nil {
		return err
	}
	delete(hooks, p.target)
	p.installed = false
	logger.WithField("target", hexAddr(p.target)).Debug("reset")
	return nil
}

// Close resets the hook if installed and releases its buffer slot. The
// buffer is freed once it is closed and all its hooks are.
func (p *patch) Close() error {
	if p.closed {
		return nil
	}
	if err := p.Reset(); err != nil {
		return err
	}
	p.closed = true
	p.original = nil
	if p.buf == nil {
		return nil
	}
	buf := p.buf
	p.buf = nil
	return buf.release()
}

// Lookup returns the hook installed at target.
func Lookup(target uintptr) (Patch, bool) {
	lock.Lock()
	defer lock.Unlock()
	p, ok := hooks[target]
	return p, ok
}

// Unhook resets whatever hook is installed at target.
func Unhook(target uintptr) error {
	p, ok := Lookup(target)
	if !ok {
		return errors.Wrapf(ErrHookNotFound, "%#x", target)
	}
	return p.Reset()
}

// writeCode overwrites live code and puts the page protection back the way
// it found it. Threads executing the bytes being written are not stopped.
func writeCode(addr uintptr, code []byte) error {
	size := uintptr(len(code))
	saved, err := protectPages(addr, size)
	if err != nil {
		return errors.Wrapf(ErrProtection, "%#x: %v", addr, err)
	}
	copy(makeSlice(addr, size), code)
	flushICache(addr, size)
	if err := reProtectPages(saved); err != nil {
		return errors.Wrapf(ErrProtection, "%#x: %v", addr, err)
	}
	return nil
}
