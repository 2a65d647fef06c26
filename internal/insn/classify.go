// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

import (
	"github.com/pkg/errors"
)

// Descriptor is the shape of one decoded instruction.
type Descriptor struct {
	// PrefixLength counts the legacy (66, F2, F3) and REX prefix bytes.
	PrefixLength int
	// TotalLength is the length of the instruction as it sits in memory.
	TotalLength int
	// RelativeFieldSize is 0, 1 (rel8 jcc) or 4 (rel32 branch or
	// RIP-relative disp32).
	RelativeFieldSize int
	// RelativeOffset is where the relative field starts inside the
	// instruction. Only meaningful when RelativeFieldSize is non-zero.
	RelativeOffset int
	// RelocatedLength is the length the instruction takes once relocated.
	// It differs from TotalLength only for rel8 conditional jumps.
	RelocatedLength int
	// Branch is set for control transfers (jcc, jmp, call, xbegin) as
	// opposed to RIP-relative data references.
	Branch bool
}

// Relative reports whether the instruction must be fixed up when moved.
func (d Descriptor) Relative() bool {
	return d.RelativeFieldSize != 0
}

// Classify decodes the shape of the instruction at the start of code, which
// lives at address pc. It never guesses: bytes outside the supported table
// yield an *UnsupportedInstructionError, and a window that ends inside an
// instruction yields ErrTruncated.
func Classify(code []byte, pc uintptr, mode Mode) (Descriptor, error) {
	var d Descriptor
	if !mode.valid() {
		return d, errors.Errorf("invalid mode %d", int(mode))
	}

	i := 0
	opsize16, rexW := false, false
	var rep byte
scan:
	for {
		if i >= len(code) {
			return d, errors.Wrapf(ErrTruncated, "%#x", pc)
		}
		b := code[i]
		switch {
		case b == 0x66:
			opsize16 = true
		case b == 0xF2 || b == 0xF3:
			rep = b
		case mode == Mode64 && b&0xF0 == 0x40:
			// REX must be the last prefix; whatever follows is the opcode.
			rexW = b&0x08 != 0
			i++
			break scan
		default:
			break scan
		}
		i++
		if i >= MaxInstLen {
			return d, unsupported(code, pc, mode)
		}
	}
	d.PrefixLength = i

	if i >= len(code) {
		return d, errors.Wrapf(ErrTruncated, "%#x", pc)
	}
	op := code[i]
	i++
	e := oneByte[op]
	if op == 0x0F {
		if i >= len(code) {
			return d, errors.Wrapf(ErrTruncated, "%#x", pc)
		}
		e = twoByte[code[i]]
		i++
	}
	if !e.ok || (e.only != 0 && e.only != mode) {
		return d, unsupported(code, pc, mode)
	}
	if e.group != nil {
		if i >= len(code) {
			return d, errors.Wrapf(ErrTruncated, "%#x", pc)
		}
		m := code[i]
		e = e.group[(m>>3)&7]
		if !e.ok || (e.exact >= 0 && int(m) != e.exact) {
			return d, unsupported(code, pc, mode)
		}
	}

	if (e.noF2 && rep == 0xF2) || (e.noF3 && rep == 0xF3) || (e.noW && rexW) {
		return d, unsupported(code, pc, mode)
	}

	if e.modrm {
		if e.mem && i < len(code) && code[i]>>6 == 3 {
			return d, unsupported(code, pc, mode)
		}
		n, ripRelative, err := modrmSize(code[i:], mode)
		if err != nil {
			return d, errors.Wrapf(err, "%#x", pc)
		}
		if ripRelative {
			d.RelativeFieldSize = 4
			d.RelativeOffset = i + 1
		}
		i += n
	}

	switch e.imm {
	case imm8:
		i++
	case imm16:
		i += 2
	case immZ:
		// REX.W wins over 0x66
		i += immZSize(opsize16 && !rexW)
	case immV:
		if rexW {
			i += 8
		} else {
			i += immZSize(opsize16)
		}
	case immMoffs:
		i += int(mode) / 8
	}

	switch e.rel {
	case rel8:
		if opsize16 {
			// widened to 66 0F 8x, which is a rel16 jcc
			return d, unsupported(code, pc, mode)
		}
		d.RelativeFieldSize = 1
		d.RelativeOffset = i
		d.Branch = true
		i++
	case relZ:
		if opsize16 {
			// rel16 truncates EIP/RIP; never emitted by compilers we target.
			return d, unsupported(code, pc, mode)
		}
		d.RelativeFieldSize = 4
		d.RelativeOffset = i
		d.Branch = true
		i += 4
	}

	if i > MaxInstLen {
		return d, unsupported(code, pc, mode)
	}
	if i > len(code) {
		return d, errors.Wrapf(ErrTruncated, "%#x", pc)
	}
	d.TotalLength = i
	d.RelocatedLength = i
	if e.rel == rel8 {
		d.RelocatedLength = d.PrefixLength + 6
	}
	return d, nil
}

func immZSize(opsize16 bool) int {
	if opsize16 {
		return 2
	}
	return 4
}

// modrmSize returns the length of the ModRM byte and the SIB byte and
// displacement that follow it. The second result reports a RIP-relative
// disp32, which begins right after the ModRM byte.
func modrmSize(code []byte, mode Mode) (int, bool, error) {
	if len(code) == 0 {
		return 0, false, ErrTruncated
	}
	m := code[0]
	mod, rm := m>>6, m&7
	sib := func() (byte, error) {
		if len(code) < 2 {
			return 0, ErrTruncated
		}
		return code[1], nil
	}
	switch mod {
	case 0:
		switch rm {
		case 5:
			return 5, mode == Mode64, nil
		case 4:
			s, err := sib()
			if err != nil {
				return 0, false, err
			}
			if s&7 == 5 {
				return 6, false, nil
			}
			return 2, false, nil
		}
		return 1, false, nil
	case 1:
		if rm == 4 {
			return 3, false, nil
		}
		return 2, false, nil
	case 2:
		if rm == 4 {
			return 6, false, nil
		}
		return 5, false, nil
	}
	return 1, false, nil
}
