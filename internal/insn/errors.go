// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

var (
	// ErrUnsupportedInstruction means the bytes are outside the known table
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	// ErrTruncated means the code window ended inside an instruction
	ErrTruncated = errors.New("truncated instruction")
	// ErrOutOfRange means a relative field cannot reach its target
	ErrOutOfRange = errors.New("displacement out of rel32 range")
	// ErrShortBuffer means the destination cannot hold the relocated code
	ErrShortBuffer = errors.New("destination buffer too small")
)

// UnsupportedInstructionError reports the bytes the classifier refused to
// decode. It is the only diagnostic the engine produces.
type UnsupportedInstructionError struct {
	PC    uintptr
	Bytes []byte
	Mode  Mode
}

func unsupported(code []byte, pc uintptr, mode Mode) error {
	n := len(code)
	if n > MaxInstLen {
		n = MaxInstLen
	}
	b := make([]byte, n)
	copy(b, code)
	return &UnsupportedInstructionError{PC: pc, Bytes: b, Mode: mode}
}

func (e *UnsupportedInstructionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%#x: unsupported instruction:", e.PC)
	for _, b := range e.Bytes {
		fmt.Fprintf(&sb, " %02X", b)
	}
	if inst, err := x86asm.Decode(e.Bytes, int(e.Mode)); err == nil {
		fmt.Fprintf(&sb, " (%s)", x86asm.IntelSyntax(inst, uint64(e.PC), nil))
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrUnsupportedInstruction) hold.
func (e *UnsupportedInstructionError) Is(target error) bool {
	return target == ErrUnsupportedInstruction
}
