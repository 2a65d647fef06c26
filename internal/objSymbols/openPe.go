// Copyright (C) 2022 K2 Cyber Security Inc.

package symbols

import (
	"debug/pe"
	"io"

	"github.com/pkg/errors"
)

type peFile struct {
	pe        *pe.File
	imageBase uint64
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	p := &peFile{pe: f}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		p.imageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		p.imageBase = oh.ImageBase
	}
	return p, nil
}

func (f *peFile) format() string { return "pe" }

func (f *peFile) bits() int {
	switch f.pe.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return 32
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return 64
	}
	return 0
}

func isCode(s *pe.Section) bool {
	return s.Characteristics&(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE) != 0
}

func (f *peFile) symbols() ([]Symbol, error) {
	var syms []Symbol
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sect := f.pe.Sections[s.SectionNumber-1]
		if !isCode(sect) {
			continue
		}
		syms = append(syms, Symbol{
			Name: s.Name,
			Addr: f.imageBase + uint64(sect.VirtualAddress) + uint64(s.Value),
		})
	}
	return syms, nil
}

func (f *peFile) code(addr uint64, n int) ([]byte, error) {
	for _, s := range f.pe.Sections {
		if !isCode(s) {
			continue
		}
		start := f.imageBase + uint64(s.VirtualAddress)
		if addr >= start && addr < start+uint64(s.Size) {
			return readSection(s, addr-start, uint64(s.Size), n)
		}
	}
	return nil, errors.Wrapf(ErrNotCode, "%#x", addr)
}
