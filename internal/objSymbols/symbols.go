// Copyright (C) 2022 K2 Cyber Security Inc.

// Package symbols reads function symbols and their code from executables so
// prologues can be sized without loading them.
package symbols

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// ErrNotCode means the address is not inside an executable section.
var ErrNotCode = errors.New("address not in a code section")

// Symbol is a function symbol.
type Symbol struct {
	Name string
	Addr uint64
	// Size is zero when the format does not record it.
	Size uint64
}

type rawFile interface {
	symbols() ([]Symbol, error)
	code(addr uint64, n int) ([]byte, error)
	bits() int
	format() string
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openPE,
}

// File is an opened executable.
type File struct {
	raw    rawFile
	closer io.Closer
}

// Open recognizes ELF, PE and Mach-O executables.
func Open(name string) (*File, error) {
	if m, err := openMacho(name); err == nil {
		return &File{raw: m, closer: m}, nil
	}
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	for _, try := range objType {
		if raw, err := try(r); err == nil {
			return &File{raw: raw, closer: r}, nil
		}
	}
	r.Close()
	return nil, errors.Errorf("open %s: unrecognized object file", name)
}

// Close releases the file.
func (f *File) Close() error {
	return f.closer.Close()
}

// Bits is 32 or 64 for x86 executables and 0 for anything else.
func (f *File) Bits() int { return f.raw.bits() }

// Format names the container format.
func (f *File) Format() string { return f.raw.format() }

// Symbols returns the function symbols sorted by address.
func (f *File) Symbols() ([]Symbol, error) {
	syms, err := f.raw.symbols()
	if err != nil {
		return nil, err
	}
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].Addr != syms[j].Addr {
			return syms[i].Addr < syms[j].Addr
		}
		return syms[i].Name < syms[j].Name
	})
	return syms, nil
}

// Code reads up to n bytes of code at the virtual address addr. It stops
// early at the end of the section.
func (f *File) Code(addr uint64, n int) ([]byte, error) {
	return f.raw.code(addr, n)
}

// ReadSymbols maps function names to addresses for the executable at name.
func ReadSymbols(name string) (map[string]uintptr, error) {
	f, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	m := make(map[string]uintptr, len(syms))
	for _, s := range syms {
		m[s.Name] = uintptr(s.Addr)
	}
	return m, nil
}

// readSection copies up to n bytes at off of a section of length size.
func readSection(r io.ReaderAt, off, size uint64, n int) ([]byte, error) {
	if rest := size - off; uint64(n) > rest {
		n = int(rest)
	}
	b := make([]byte, n)
	if _, err := r.ReadAt(b, int64(off)); err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}
