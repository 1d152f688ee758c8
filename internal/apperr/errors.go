// Package apperr defines the error classes that decide whether a run aborts.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a bad or missing vault path or a malformed config.
	// Fatal before any side effect.
	ErrConfiguration = errors.New("configuration error")
	// ErrParse marks a single note that could not be read or parsed. Recoverable.
	ErrParse = errors.New("parse error")
	// ErrIO marks a log, index or watermark write failure. Fatal to the run.
	ErrIO = errors.New("io error")
)

// Configuration wraps err as a configuration error.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Parse wraps err as a parse error for the note at path.
func Parse(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrParse, path, err)
}

// IO wraps err as an I/O error for the given operation.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
