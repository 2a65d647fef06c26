// Copyright (C) 2022 K2 Cyber Security Inc.

package symbols

import (
	"debug/elf"
	"io"

	"github.com/pkg/errors"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) format() string { return "elf" }

func (e *elfFile) bits() int {
	switch e.elf.Machine {
	case elf.EM_386:
		return 32
	case elf.EM_X86_64:
		return 64
	}
	return 0
}

func (e *elfFile) symbols() ([]Symbol, error) {
	elfSyms, err := e.elf.Symbols()
	if err != nil {
		return nil, errors.Wrap(err, "elf symbols")
	}
	var syms []Symbol
	for _, s := range elfSyms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Value == 0 {
			continue
		}
		syms = append(syms, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return syms, nil
}

func (e *elfFile) code(addr uint64, n int) ([]byte, error) {
	for _, s := range e.elf.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return readSection(s, addr-s.Addr, s.Size, n)
		}
	}
	return nil, errors.Wrapf(ErrNotCode, "%#x", addr)
}
