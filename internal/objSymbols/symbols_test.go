package symbols

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSectionClamps(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))
	b, err := readSection(r, 6, 10, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("6789"), b)

	b, err = readSection(r, 0, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("012"), b)
}

func TestOpenUnrecognized(t *testing.T) {
	name := t.TempDir() + "/junk"
	require.NoError(t, os.WriteFile(name, []byte("not an object file"), 0o644))
	_, err := Open(name)
	assert.ErrorContains(t, err, "unrecognized object file")
}

func TestOpenELF(t *testing.T) {
	exe := buildFixture(t, "./testdata/fixture/main.go", "linux")
	f, err := Open(exe)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "elf", f.Format())
	assert.Equal(t, 64, f.Bits())

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.NotEmpty(t, syms)
	for i := 1; i < len(syms); i++ {
		assert.LessOrEqual(t, syms[i-1].Addr, syms[i].Addr)
	}

	var main, answer *Symbol
	for i := range syms {
		switch syms[i].Name {
		case "main.main":
			main = &syms[i]
		case "main.answer":
			answer = &syms[i]
		}
	}
	require.NotNil(t, main)
	require.NotNil(t, answer)
	assert.NotZero(t, main.Size)
	assert.NotZero(t, answer.Size)
	code, err := f.Code(main.Addr, 16)
	require.NoError(t, err)
	assert.Len(t, code, 16)

	_, err = f.Code(0, 16)
	assert.ErrorIs(t, err, ErrNotCode)
}
