// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"github.com/pkg/errors"

	"github.com/k2io/hookengine/internal/insn"
)

// prefixFunc returns code to run before the relocated prologue, given the
// address it will live at.
type prefixFunc func(pc uintptr) ([]byte, error)

// slotSize is the room one hook takes in a buffer: the saved original bytes,
// the optional prefix, the relocated prologue and the jump back.
func slotSize(s insn.Sizes, prefixLen int) int {
	return s.Original + prefixLen + s.Relocated + insn.JmpSize
}

// buildTrampoline lays out one slot at pc:
//
//	saved original | prefix | relocated prologue | jmp target+Original
//
// code holds the Original bytes found at target.
func buildTrampoline(pc uintptr, code []byte, target uintptr, mode insn.Mode, s insn.Sizes, prefix prefixFunc) ([]byte, error) {
	var pre []byte
	if prefix != nil {
		var err error
		if pre, err = prefix(pc + uintptr(s.Original)); err != nil {
			return nil, err
		}
	}
	out := make([]byte, slotSize(s, len(pre)))
	i := copy(out, code[:s.Original])
	i += copy(out[i:], pre)

	n, err := insn.CopyCode(out[i:], pc+uintptr(i), code, target, s.Original, mode)
	if err != nil {
		return nil, err
	}
	if n != s.Relocated {
		return nil, errors.Errorf("%#x: relocated %d bytes, sized %d", target, n, s.Relocated)
	}
	i += n

	if _, err := insn.WriteJump(out[i:], pc+uintptr(i), target+uintptr(s.Original), mode); err != nil {
		return nil, err
	}
	return out, nil
}

// patchBytes is what the first size bytes of target become while a hook is
// set: a near jump to dest followed by trap filler.
func patchBytes(target, dest uintptr, size int, mode insn.Mode) ([]byte, error) {
	if size < insn.JmpSize {
		return nil, errors.Errorf("%#x: prologue of %d bytes cannot hold a jump", target, size)
	}
	code := make([]byte, size)
	if _, err := insn.WriteJump(code, target, dest, mode); err != nil {
		return nil, err
	}
	for i := insn.JmpSize; i < size; i++ {
		code[i] = trapByte
	}
	return code, nil
}
