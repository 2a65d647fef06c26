package insn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizePrologue(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		code      string
		original  int
		relocated int
	}{
		{"frame setup", Mode32, "55 89 E5 83 EC 10 8B 45 08", 6, 6},
		{"push imm32", Mode32, "68 78 56 34 12 C3", 5, 5},
		{"short jcc first", Mode32, "74 03 55 89 E5 83 EC 10", 5, 9},
		{"call first", Mode32, "E8 00 00 00 00 C3", 5, 5},
		{"go stack check", Mode64, "49 3B 66 10 76 2B 55 48 89 E5", 6, 10},
		{"go frameless", Mode64, "48 83 EC 18 48 89 6C 24 10", 9, 9},
		{"rip load", Mode64, "48 8B 05 10 00 00 00 C3", 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SizePrologue(unhex(t, tt.code), 0x1000, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.original, s.Original)
			assert.Equal(t, tt.relocated, s.Relocated)
		})
	}
}

func TestSizePrologueUnsupported(t *testing.T) {
	_, err := SizePrologue(unhex(t, "55 0F 0B 90 90 90"), 0x1000, Mode32)
	require.ErrorIs(t, err, ErrUnsupportedInstruction)

	var ue *UnsupportedInstructionError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, uintptr(0x1001), ue.PC)
}

func TestSizePrologueTooShort(t *testing.T) {
	_, err := SizePrologue(unhex(t, "55 C3"), 0x1000, Mode32)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSizePrologueBranchInside(t *testing.T) {
	_, err := SizePrologue(unhex(t, "74 01 90 90 90 90"), 0x1000, Mode32)
	assert.ErrorIs(t, err, ErrBranchIntoPrologue)

	// a branch to the first untouched byte is fine
	_, err = SizePrologue(unhex(t, "74 03 90 90 90 90"), 0x1000, Mode32)
	assert.NoError(t, err)
}

// TestSizePrologueBoundary builds random streams of known instructions and
// checks the sized prologue always ends on an instruction boundary.
func TestSizePrologueBoundary(t *testing.T) {
	pool := []string{
		"55", "89 E5", "83 EC 10", "8B 45 08", "8B 44 24 04", "68 78 56 34 12",
		"B8 01 00 00 00", "F3 0F 10 45 F8", "0F 1F 44 00 00", "90", "53", "56",
		"C7 45 FC 00 00 00 00", "66 0F 1F 44 00 00", "E8 00 00 00 00",
	}
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 500; iter++ {
		var (
			code       []byte
			boundaries = map[int]bool{0: true}
		)
		for len(code) < 32 {
			code = append(code, unhex(t, pool[r.Intn(len(pool))])...)
			boundaries[len(code)] = true
		}
		s, err := SizePrologue(code, 0x400000, Mode32)
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.Original, JmpSize)
		require.True(t, boundaries[s.Original], "% X split at %d", code, s.Original)

		_, err = Classify(code[s.Original:], 0x400000+uintptr(s.Original), Mode32)
		require.NoError(t, err)
	}
}
