// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

import (
	"github.com/pkg/errors"
)

// ErrBranchIntoPrologue means an instruction in the prologue jumps to a
// point strictly inside the prologue. Once patched that point holds the
// jump or trap filler, so the function cannot be hooked.
var ErrBranchIntoPrologue = errors.New("branch into prologue")

// Sizes is the result of SizePrologue.
type Sizes struct {
	// Original is the number of bytes the patch overwrites.
	Original int
	// Relocated is the number of bytes the relocated copy occupies.
	Relocated int
}

// SizePrologue classifies whole instructions from the start of code until
// at least JmpSize bytes are covered.
func SizePrologue(code []byte, pc uintptr, mode Mode) (Sizes, error) {
	var (
		s        Sizes
		branches []uintptr
	)
	for s.Original < JmpSize {
		at := pc + uintptr(s.Original)
		d, err := Classify(code[s.Original:], at, mode)
		if err != nil {
			return Sizes{}, err
		}
		if d.Branch {
			t, err := target(code[s.Original:], at, d, mode)
			if err != nil {
				return Sizes{}, err
			}
			branches = append(branches, t)
		}
		s.Original += d.TotalLength
		s.Relocated += d.RelocatedLength
	}
	end := pc + uintptr(s.Original)
	for _, t := range branches {
		if t > pc && t < end {
			return Sizes{}, errors.Wrapf(ErrBranchIntoPrologue, "%#x: target %#x", pc, t)
		}
	}
	return s, nil
}
