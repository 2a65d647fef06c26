// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mapping is one line of /proc/self/maps.
type mapping struct {
	lo, hi uintptr
	prot   uint32
}

func readMappings() ([]mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, errors.Wrap(err, "read mappings")
	}
	defer f.Close()
	var maps []mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m, ok := parseMapping(sc.Text()); ok {
			maps = append(maps, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read mappings")
	}
	return maps, nil
}

// parseMapping reads the address range and rwx permissions of a line such
// as "7f00c0000000-7f00c0001000 r-xp 00000000 00:00 0".
func parseMapping(line string) (mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields[1]) < 3 {
		return mapping{}, false
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return mapping{}, false
	}
	l, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return mapping{}, false
	}
	h, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return mapping{}, false
	}
	m := mapping{lo: uintptr(l), hi: uintptr(h)}
	perms := fields[1]
	if perms[0] == 'r' {
		m.prot |= unix.PROT_READ
	}
	if perms[1] == 'w' {
		m.prot |= unix.PROT_WRITE
	}
	if perms[2] == 'x' {
		m.prot |= unix.PROT_EXEC
	}
	return m, true
}

func findMapping(maps []mapping, addr uintptr) (mapping, bool) {
	for _, m := range maps {
		if addr >= m.lo && addr < m.hi {
			return m, true
		}
	}
	return mapping{}, false
}

// pageProts looks up the current protection of every page in the range.
// Pages missing from the mappings are taken to be read/execute.
func pageProts(start, length uintptr) ([]pageProt, error) {
	maps, err := readMappings()
	if err != nil {
		return nil, err
	}
	var saved []pageProt
	for p := start; p < start+length; p += pageSize {
		prot := uint32(defaultProt)
		if m, ok := findMapping(maps, p); ok {
			prot = m.prot
		}
		saved = append(saved, pageProt{addr: p, prot: prot})
	}
	return saved, nil
}
