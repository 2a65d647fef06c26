// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Relocate copies the instruction at the start of src, which lives at
// srcPC, into dst, which will live at dstPC. Relative fields are rebased so
// they keep their absolute target; a rel8 jcc is widened to 0F 8x rel32.
func Relocate(dst []byte, dstPC uintptr, src []byte, srcPC uintptr, mode Mode) (consumed, written int, err error) {
	d, err := Classify(src, srcPC, mode)
	if err != nil {
		return 0, 0, err
	}
	if len(dst) < d.RelocatedLength {
		return 0, 0, errors.Wrapf(ErrShortBuffer, "need %d, have %d", d.RelocatedLength, len(dst))
	}

	switch d.RelativeFieldSize {
	case 0:
		copy(dst, src[:d.TotalLength])
	case 1:
		t, err := target(src, srcPC, d, mode)
		if err != nil {
			return 0, 0, err
		}
		p := d.PrefixLength
		copy(dst, src[:p])
		dst[p] = 0x0F
		dst[p+1] = 0x80 | src[p]&0x0F
		disp, err := Displacement(t, dstPC+uintptr(d.RelocatedLength), mode)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "%#x", srcPC)
		}
		binary.LittleEndian.PutUint32(dst[p+2:], disp)
	case 4:
		t, err := target(src, srcPC, d, mode)
		if err != nil {
			return 0, 0, err
		}
		copy(dst, src[:d.TotalLength])
		disp, err := Displacement(t, dstPC+uintptr(d.TotalLength), mode)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "%#x", srcPC)
		}
		binary.LittleEndian.PutUint32(dst[d.RelativeOffset:], disp)
	}
	return d.TotalLength, d.RelocatedLength, nil
}

// CopyCode relocates whole instructions from src into dst until size bytes
// of src have been consumed, and returns the number of bytes written.
func CopyCode(dst []byte, dstPC uintptr, src []byte, srcPC uintptr, size int, mode Mode) (int, error) {
	var consumed, written int
	for consumed < size {
		c, w, err := Relocate(dst[written:], dstPC+uintptr(written), src[consumed:], srcPC+uintptr(consumed), mode)
		if err != nil {
			return written, err
		}
		consumed += c
		written += w
	}
	return written, nil
}

// Target returns the absolute address the relative field of the
// instruction at the start of code refers to.
func Target(code []byte, pc uintptr, mode Mode) (uintptr, bool, error) {
	d, err := Classify(code, pc, mode)
	if err != nil || !d.Relative() {
		return 0, false, err
	}
	t, err := target(code, pc, d, mode)
	return t, err == nil, err
}

func target(code []byte, pc uintptr, d Descriptor, mode Mode) (uintptr, error) {
	next := pc + uintptr(d.TotalLength)
	var disp int64
	switch d.RelativeFieldSize {
	case 1:
		disp = int64(int8(code[d.RelativeOffset]))
	case 4:
		disp = int64(int32(binary.LittleEndian.Uint32(code[d.RelativeOffset:])))
	default:
		return 0, errors.Errorf("%#x: no relative field", pc)
	}
	t := next + uintptr(disp)
	if mode == Mode32 {
		t = uintptr(uint32(t))
	}
	return t, nil
}

// Displacement encodes the rel32 that makes an instruction ending at next
// refer to target. In Mode32 it wraps like the processor does; in Mode64 a
// distance outside the signed 32-bit range is ErrOutOfRange.
func Displacement(target, next uintptr, mode Mode) (uint32, error) {
	if mode == Mode32 {
		return uint32(target - next), nil
	}
	delta := int64(uint64(target) - uint64(next))
	if delta < math.MinInt32 || delta > math.MaxInt32 {
		return 0, errors.Wrapf(ErrOutOfRange, "%#x -> %#x", next, target)
	}
	return uint32(int32(delta)), nil
}

// WriteJump writes E9 rel32 at dst, which lives at pc.
func WriteJump(dst []byte, pc, target uintptr, mode Mode) (int, error) {
	return writeRel32(dst, 0xE9, pc, target, mode)
}

// WriteCall writes E8 rel32 at dst, which lives at pc.
func WriteCall(dst []byte, pc, target uintptr, mode Mode) (int, error) {
	return writeRel32(dst, 0xE8, pc, target, mode)
}

func writeRel32(dst []byte, op byte, pc, target uintptr, mode Mode) (int, error) {
	if len(dst) < JmpSize {
		return 0, errors.Wrapf(ErrShortBuffer, "need %d, have %d", JmpSize, len(dst))
	}
	disp, err := Displacement(target, pc+JmpSize, mode)
	if err != nil {
		return 0, err
	}
	dst[0] = op
	binary.LittleEndian.PutUint32(dst[1:], disp)
	return JmpSize, nil
}
