// Copyright (C) 2022 K2 Cyber Security Inc.

package insn

import "runtime"

// Mode selects how instruction bytes are interpreted.
type Mode int

const (
	// Mode32 decodes protected-mode x86 code.
	Mode32 Mode = 32
	// Mode64 decodes long-mode x86-64 code. REX prefixes are accepted and
	// ModRM disp32-only forms are RIP-relative.
	Mode64 Mode = 64
)

// JmpSize is the length of a near jump (E9 rel32) and therefore the minimum
// number of bytes a prologue must provide.
const JmpSize = 5

// MaxInstLen is the architectural limit for one instruction.
const MaxInstLen = 15

// HostMode returns the mode of the running program.
func HostMode() Mode {
	switch runtime.GOARCH {
	case "386":
		return Mode32
	default:
		return Mode64
	}
}

func (m Mode) String() string {
	switch m {
	case Mode32:
		return "x86"
	case Mode64:
		return "x86-64"
	}
	return "invalid"
}

func (m Mode) valid() bool {
	return m == Mode32 || m == Mode64
}

// ParseMode converts a bit width ("32", "64") into a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "32", "x86", "386":
		return Mode32, true
	case "64", "x86-64", "amd64":
		return Mode64, true
	case "host", "":
		return HostMode(), true
	}
	return 0, false
}
