// Copyright (C) 2022 K2 Cyber Security Inc.

package symbols

import (
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

type machoFile struct {
	macho *macho.File
	// 1-based index of __TEXT,__text, as symbols number sections
	text int
}

func openMacho(name string) (*machoFile, error) {
	f, err := macho.Open(name)
	if err != nil {
		return nil, err
	}
	m := &machoFile{macho: f}
	for i, s := range f.Sections {
		if s.Seg == "__TEXT" && s.Name == "__text" {
			m.text = i + 1
			break
		}
	}
	return m, nil
}

func (f *machoFile) Close() error { return f.macho.Close() }

func (f *machoFile) format() string { return "macho" }

func (f *machoFile) bits() int {
	switch f.macho.CPU {
	case types.CPUI386:
		return 32
	case types.CPUAmd64:
		return 64
	}
	return 0
}

func (f *machoFile) symbols() ([]Symbol, error) {
	if f.macho.Symtab == nil || f.text == 0 {
		return nil, nil
	}
	var syms []Symbol
	for _, s := range f.macho.Symtab.Syms {
		if int(s.Sect) != f.text || s.Value == 0 {
			continue
		}
		syms = append(syms, Symbol{Name: s.Name, Addr: s.Value})
	}
	return syms, nil
}

func (f *machoFile) code(addr uint64, n int) ([]byte, error) {
	if f.text == 0 {
		return nil, errors.Wrapf(ErrNotCode, "%#x", addr)
	}
	s := f.macho.Sections[f.text-1]
	if addr < s.Addr || addr >= s.Addr+s.Size {
		return nil, errors.Wrapf(ErrNotCode, "%#x", addr)
	}
	data, err := s.Data()
	if err != nil {
		return nil, errors.Wrap(err, "read __text")
	}
	off := addr - s.Addr
	end := off + uint64(n)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[off:end], nil
}
