//go:build !unix && !windows

// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"github.com/pkg/errors"
)

var errNoExecMemory = errors.New("executable memory is not available on this platform")

func allocExec(size, near uintptr) (uintptr, error) { return 0, errNoExecMemory }

func freeExec(addr, size uintptr) error { return errNoExecMemory }

func protectPages(addr, size uintptr) ([]pageProt, error) { return nil, errNoExecMemory }

func reProtectPages(saved []pageProt) error { return errNoExecMemory }

func flushICache(addr, size uintptr) {}
