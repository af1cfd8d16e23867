package oocoresim

import "fmt"

// Error represents a structured simulator error with context fields
type Error struct {
	Op     string       // Operation that failed (e.g., "LOAD_CONFIG", "RUN")
	CoreID int          // Core index (-1 if not applicable)
	Cycle  int64        // Simulator cycle (0 if not applicable)
	Code   SimErrorCode // High-level error category
	Msg    string       // Human-readable message
	Inner  error        // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.CoreID >= 0 {
		parts = append(parts, fmt.Sprintf("core=%d", e.CoreID))
	}

	if e.Cycle != 0 {
		parts = append(parts, fmt.Sprintf("cycle=%d", e.Cycle))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("oocoresim: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("oocoresim: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error category
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// SimErrorCode represents high-level error categories
type SimErrorCode string

const (
	ErrCodeConfig              SimErrorCode = "configuration error"
	ErrCodeUnknownOpcode       SimErrorCode = "unknown opcode"
	ErrCodeFeederInconsistency SimErrorCode = "feeder inconsistency"
	ErrCodeInvariant           SimErrorCode = "invariant violation"
	ErrCodeDeadlock            SimErrorCode = "deadlock"
	ErrCodeCheckpoint          SimErrorCode = "checkpoint error"
)

// newConfigError builds a fatal configuration error for LoadKnobs-time
// validation failures.
func newConfigError(op, msg string, inner error) *Error {
	return &Error{Op: op, CoreID: -1, Code: ErrCodeConfig, Msg: msg, Inner: inner}
}
