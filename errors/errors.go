// Package errors provides small helpers that stamp errors with the file and
// line of the call site, so failures surfaced in chat or in the log can be
// traced back without a full stack trace.
package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// caller returns the "file:line" of the exported helper's caller.
func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// New creates a new error carrying the call site.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrap adds a static message (and the call site) to an existing error.
// Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), msg, err)
}

// Wrapf adds formatted context (and the call site) to an existing error.
// Returns nil if err is nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}
