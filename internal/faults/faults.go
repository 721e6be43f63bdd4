// Package faults defines the error taxonomy shared by the scheduler,
// session manager, and chat engine.
//
// Callers match with errors.Is against the sentinel values; the constructor
// helpers attach enough context for log lines without a custom error type per
// service.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks lookups of unknown broadcast/template/session/room ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks lifecycle moves not permitted from the
	// current status. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation marks malformed specs and chat policy violations.
	ErrValidation = errors.New("validation failed")

	// ErrExternal marks collaborator failures (fan-out, notification dispatch).
	ErrExternal = errors.New("external failure")

	// ErrTimer marks jobs that could not be armed.
	ErrTimer = errors.New("timer scheduling failed")
)

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func InvalidTransition(id, from, to string) error {
	return fmt.Errorf("broadcast %q: %s -> %s: %w", id, from, to, ErrInvalidTransition)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

func External(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrExternal)
}

func Timer(key string, err error) error {
	return fmt.Errorf("job %q: %v: %w", key, err, ErrTimer)
}
