package insn

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rel32(op byte, disp int32) []byte {
	b := []byte{op, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], uint32(disp))
	return b
}

func TestRelocateRel32(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		src   uintptr
		dst   uintptr
		disp  int32
		fails bool
	}{
		{"small positive", Mode32, 0x1000, 0x9000, 0x10, false},
		{"small negative", Mode32, 0x9000, 0x1000, -0x20, false},
		{"self", Mode32, 0x1000, 0x2000, -5, false},
		{"upper boundary", Mode32, 0x1000, 0x100, 0x7FFFFFF0, false},
		{"lower boundary", Mode32, 0x100, 0x1000, -0x80000000, false},
		{"wraps address space", Mode32, 0xFFFFF000, 0x1000, 0x7FFFFFFF, false},
		{"small positive", Mode64, 0x7F0000001000, 0x7F0000009000, 0x10, false},
		{"small negative", Mode64, 0x7F0000009000, 0x7F0000001000, -0x20, false},
		{"upper boundary fits", Mode64, 0x7F0000001000, 0x7F0000001100, 0x7FFFFFF0, false},
		{"upper boundary overflows", Mode64, 0x7F0000001000, 0x7F0000000F00, 0x7FFFFFF0, true},
		{"lower boundary fits", Mode64, 0x7F00F0001000, 0x7F00F0000FF0, -0x80000000 + 0x20, false},
		{"lower boundary overflows", Mode64, 0x7F00F0001000, 0x7F00F0001010, -0x80000000, true},
		{"far away", Mode64, 0x7F0000001000, 0x100000, 0, true},
	}
	for _, tt := range tests {
		for _, op := range []byte{0xE8, 0xE9} {
			t.Run(tt.mode.String()+"/"+tt.name, func(t *testing.T) {
				src := rel32(op, tt.disp)
				want, ok, err := Target(src, tt.src, tt.mode)
				require.NoError(t, err)
				require.True(t, ok)

				dst := make([]byte, 8)
				consumed, written, err := Relocate(dst, tt.dst, src, tt.src, tt.mode)
				if tt.fails {
					require.ErrorIs(t, err, ErrOutOfRange)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, 5, consumed)
				assert.Equal(t, 5, written)
				assert.Equal(t, op, dst[0])

				got, ok, err := Target(dst, tt.dst, tt.mode)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestRelocateShortJcc(t *testing.T) {
	for _, mode := range []Mode{Mode32, Mode64} {
		for cc := byte(0); cc < 16; cc++ {
			for _, disp := range []int8{-128, -1, 0, 1, 127} {
				src := []byte{0x70 | cc, byte(disp)}
				srcPC := uintptr(0x40005000)
				want, ok, err := Target(src, srcPC, mode)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, srcPC+2+uintptr(int64(disp)), want)

				dst := make([]byte, 6)
				dstPC := uintptr(0x40090000)
				consumed, written, err := Relocate(dst, dstPC, src, srcPC, mode)
				require.NoError(t, err)
				assert.Equal(t, 2, consumed)
				assert.Equal(t, 6, written)
				assert.Equal(t, []byte{0x0F, 0x80 | cc}, dst[:2])

				d, err := Classify(dst, dstPC, mode)
				require.NoError(t, err)
				assert.Equal(t, 6, d.TotalLength)

				got, _, err := Target(dst, dstPC, mode)
				require.NoError(t, err)
				assert.Equal(t, want, got, "cc %x disp %d", cc, disp)
			}
		}
	}
}

func TestRelocateShortJccWithPrefix(t *testing.T) {
	src := unhex(t, "F3 74 03")
	dst := make([]byte, 7)
	_, written, err := Relocate(dst, 0x2000, src, 0x1000, Mode32)
	require.NoError(t, err)
	assert.Equal(t, 7, written)
	assert.Equal(t, []byte{0xF3, 0x0F, 0x84}, dst[:3])

	got, _, err := Target(dst, 0x2000, Mode32)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x1006), got)
}

func TestRelocateRIPRelative(t *testing.T) {
	tests := []string{
		"48 8B 05 10 00 00 00",
		"48 8D 05 F0 FF FF FF",
		"48 C7 05 10 00 00 00 01 02 03 04",
		"80 3D 10 00 00 00 07",
		"F2 0F 10 05 00 01 00 00",
	}
	for _, code := range tests {
		src := unhex(t, code)
		srcPC, dstPC := uintptr(0x7F0000001000), uintptr(0x7F0000403000)
		want, ok, err := Target(src, srcPC, Mode64)
		require.NoError(t, err)
		require.True(t, ok)

		dst := make([]byte, 16)
		consumed, written, err := Relocate(dst, dstPC, src, srcPC, Mode64)
		require.NoError(t, err)
		assert.Equal(t, len(src), consumed)
		assert.Equal(t, len(src), written)

		got, _, err := Target(dst, dstPC, Mode64)
		require.NoError(t, err)
		assert.Equal(t, want, got, code)

		d, err := Classify(src, srcPC, Mode64)
		require.NoError(t, err)
		assert.Equal(t, src[:d.RelativeOffset], dst[:d.RelativeOffset], "opcode and modrm kept")
		assert.Equal(t, src[d.RelativeOffset+4:], dst[d.RelativeOffset+4:written], "immediate kept")
	}
}

func TestRelocateVerbatim(t *testing.T) {
	src := unhex(t, "8B 05 78 56 34 12")
	dst := make([]byte, 6)
	_, _, err := Relocate(dst, 0x9000, src, 0x1000, Mode32)
	require.NoError(t, err)
	assert.Equal(t, src, dst)
}

func TestRelocateShortBuffer(t *testing.T) {
	_, _, err := Relocate(make([]byte, 5), 0, []byte{0x74, 0x00}, 0x10, Mode32)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestCopyCodeGoPrologue(t *testing.T) {
	src := unhex(t, "49 3B 66 10 76 2B 55 48 89 E5")
	srcPC, dstPC := uintptr(0x4a1000), uintptr(0x4b0000)
	s, err := SizePrologue(src, srcPC, Mode64)
	require.NoError(t, err)

	dst := make([]byte, s.Relocated)
	written, err := CopyCode(dst, dstPC, src, srcPC, s.Original, Mode64)
	require.NoError(t, err)
	assert.Equal(t, s.Relocated, written)
	assert.Equal(t, src[:4], dst[:4])
	assert.Equal(t, []byte{0x0F, 0x86}, dst[4:6])

	got, _, err := Target(dst[4:], dstPC+4, Mode64)
	require.NoError(t, err)
	assert.Equal(t, srcPC+6+0x2B, got)
}

func TestWriteJump(t *testing.T) {
	dst := make([]byte, 5)
	n, err := WriteJump(dst, 0x1000, 0x2000, Mode32)
	require.NoError(t, err)
	assert.Equal(t, JmpSize, n)
	assert.Equal(t, []byte{0xE9, 0xFB, 0x0F, 0x00, 0x00}, dst)

	n, err = WriteCall(dst, 0x2000, 0x1000, Mode32)
	require.NoError(t, err)
	assert.Equal(t, JmpSize, n)
	assert.Equal(t, []byte{0xE8, 0xFB, 0xEF, 0xFF, 0xFF}, dst)

	_, err = WriteJump(dst, 0x7F0000000000, 0x1000, Mode64)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = WriteJump(dst[:4], 0, 0, Mode32)
	assert.ErrorIs(t, err, ErrShortBuffer)
}
