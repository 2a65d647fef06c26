package cmd

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/hookengine/internal/insn"
	symbols "github.com/k2io/hookengine/internal/objSymbols"
)

func TestParseHex(t *testing.T) {
	b, err := parseHex([]string{"55", "89 E5", "0x83ec10"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x89, 0xE5, 0x83, 0xEC, 0x10}, b)

	_, err = parseHex([]string{"5"})
	assert.Error(t, err)
}

func TestClassifyAll(t *testing.T) {
	code, err := parseHex([]string{"55 89E5 7403 C3"})
	require.NoError(t, err)
	rows, err := classifyAll(code, 0x1000, insn.Mode32)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 3, rows[2].Offset)
	assert.Equal(t, 6, rows[2].Desc.RelocatedLength)
	assert.Contains(t, rows[0].Asm, "push")

	var out bytes.Buffer
	renderRows(&out, rows, false)
	assert.Contains(t, out.String(), "74 03")
}

func TestClassifyAllStopsAtUnsupported(t *testing.T) {
	rows, err := classifyAll([]byte{0x55, 0x0F, 0x0B}, 0x1000, insn.Mode32)
	require.ErrorIs(t, err, insn.ErrUnsupportedInstruction)
	assert.Len(t, rows, 1)
}

func TestSelectSymbols(t *testing.T) {
	syms := []symbols.Symbol{
		{Name: "main.main", Addr: 0x1000},
		{Name: "main.helper", Addr: 0x1100},
		{Name: "runtime.gcStart", Addr: 0x2000},
	}
	got, err := selectSymbols(syms, nil, "^main\\.", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = selectSymbols(syms, nil, "", 1)
	require.NoError(t, err)
	assert.Equal(t, "main.main", got[0].Name)
	assert.Len(t, got, 1)

	got, err = selectSymbols(syms, []string{"runtime.gcStart"}, "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = selectSymbols(syms, []string{"missing"}, "", 0)
	assert.Error(t, err)

	_, err = selectSymbols(syms, nil, "(", 0)
	assert.Error(t, err)
}

type fakeCode map[uint64][]byte

func (f fakeCode) Code(addr uint64, n int) ([]byte, error) {
	b, ok := f[addr]
	if !ok {
		return nil, errors.Wrapf(symbols.ErrNotCode, "%#x", addr)
	}
	if len(b) > n {
		b = b[:n]
	}
	return b, nil
}

func TestScan(t *testing.T) {
	src := fakeCode{
		0x1000: {0x49, 0x3B, 0x66, 0x10, 0x76, 0x2B, 0x55},
		0x2000: {0x0F, 0x0B, 0x90, 0x90, 0x90},
	}
	syms := []symbols.Symbol{
		{Name: "a", Addr: 0x1000},
		{Name: "b", Addr: 0x2000},
		{Name: "c", Addr: 0x3000},
	}
	results := scan(src, syms, insn.Mode64)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	assert.Equal(t, insn.Sizes{Original: 6, Relocated: 10}, results[0].Sizes)
	assert.Equal(t, 21, results[0].Slot())
	assert.ErrorIs(t, results[1].Err, insn.ErrUnsupportedInstruction)
	assert.ErrorIs(t, results[2].Err, symbols.ErrNotCode)

	var out bytes.Buffer
	renderScan(&out, results, false)
	assert.Contains(t, out.String(), "1 of 3 functions hookable, batch buffer 21 B")
	assert.Contains(t, out.String(), "unsupported instruction: 0F 0B")
}
