// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

var logger = &log.Logger{
	Handler: cli.New(os.Stderr),
	Level:   log.InfoLevel,
}

// SetDebug turns tracing of buffer and hook operations on or off.
func SetDebug(x bool) {
	if x {
		logger.Level = log.DebugLevel
	} else {
		logger.Level = log.InfoLevel
	}
}

// SetLogHandler replaces the handler trace entries are sent to.
func SetLogHandler(h log.Handler) {
	logger.Handler = h
}
