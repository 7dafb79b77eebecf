// Package errdefs classifies control-plane errors into the kinds the CLI
// maps to exit codes. Callers test kinds with errors.Is against the
// exported sentinels; the message travels with the wrapping error.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers bad names, malformed or overlapping CIDRs,
	// unknown subnet types and malformed policy documents.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers missing VPCs, subnets and peerings.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers names already in use and peerings that already exist.
	ErrConflict = errors.New("conflict")

	// ErrDriver covers kernel-side failures that are not idempotence-convergent.
	ErrDriver = errors.New("driver error")

	// ErrLock covers advisory-lock acquisition failures.
	ErrLock = errors.New("lock error")

	// ErrIO covers store read/write failures.
	ErrIO = errors.New("io error")
)

// Exit codes for the CLI surface.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitDriver     = 3
	ExitContention = 4
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Validation returns a new ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a new ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a new ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return &kindError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// Driver wraps an underlying kernel tool failure as ErrDriver.
func Driver(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &kindError{kind: ErrDriver, msg: msg}
}

// Lock returns a new ErrLock with a formatted message.
func Lock(format string, args ...any) error {
	return &kindError{kind: ErrLock, msg: fmt.Sprintf(format, args...)}
}

// IO wraps a store read/write failure as ErrIO.
func IO(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &kindError{kind: ErrIO, msg: msg}
}

// ExitCode maps an error to the CLI exit code for its kind.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return ExitUsage
	case errors.Is(err, ErrDriver), errors.Is(err, ErrIO):
		return ExitDriver
	case errors.Is(err, ErrLock):
		return ExitContention
	default:
		return ExitFailure
	}
}
