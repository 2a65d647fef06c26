//go:build unix && !linux

// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

// pageProts assumes read/execute code pages where the mappings cannot be
// read back.
func pageProts(start, length uintptr) ([]pageProt, error) {
	var saved []pageProt
	for p := start; p < start+length; p += pageSize {
		saved = append(saved, pageProt{addr: p, prot: defaultProt})
	}
	return saved, nil
}
