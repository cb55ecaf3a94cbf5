// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package log provides the logging backend, based around charmbracelet/log.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// ParseLevel maps a configuration level name onto a log.Level. Both the
// charm names and the WARNING/NOTICE/CRITICAL spellings used by older
// configuration files are accepted.
func ParseLevel(l string) (log.Level, error) {
	switch strings.ToUpper(l) {
	case "", "NOTICE":
		return log.InfoLevel, nil
	case "WARNING":
		return log.WarnLevel, nil
	case "CRITICAL":
		return log.FatalLevel, nil
	}
	return log.ParseLevel(strings.ToLower(l))
}

// Backend owns the root logger and the file it may be writing to.
type Backend struct {
	root *log.Logger
	w    io.WriteCloser
}

// New creates a Backend writing to f (stderr when empty) at the given level.
// A disabled Backend discards everything.
func New(f string, level string, disable bool) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level '%s': %w", level, err)
	}

	b := new(Backend)
	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stderr
	default:
		const fileMode = 0600
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		fd, err := os.OpenFile(f, flags, fileMode)
		if err != nil {
			return nil, fmt.Errorf("log: failed to create log file: %w", err)
		}
		b.w = fd
		w = fd
	}

	b.root = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	})
	return b, nil
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *log.Logger {
	return b.root.WithPrefix(module)
}

// Close closes the log file, if any.
func (b *Backend) Close() error {
	if b.w == nil {
		return nil
	}
	return b.w.Close()
}

// Discard returns a logger that drops every record, for tests and tools
// that do not care about output.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
