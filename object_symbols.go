// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	sym "github.com/k2io/hookengine/internal/objSymbols"
)

// GetSymbols maps the function symbols of the executable at name to their
// link-time addresses.
func GetSymbols(name string) (map[string]uintptr, error) {
	return sym.ReadSymbols(name)
}
