// Package ops defines the failure taxonomy shared by the update, backup and
// restore machinery.
//
// Every outward-facing failure is an *Error carrying a Kind, a short reason
// string suitable for the dashboard, and whether the live installation was
// mutated before the failure. Kinds are comparable sentinels, so callers use
// errors.Is(err, ops.ErrValidation) regardless of how deeply the error was
// wrapped.
package ops

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrTransient covers network and download failures. They are retried up
	// to a bound and never touch the live installation.
	ErrTransient = errors.ConstError("transient failure")

	// ErrValidation covers malformed archives, path confinement violations,
	// unknown restore sources and unsupported modes.
	ErrValidation = errors.ConstError("validation failure")

	// ErrConsistency covers expected marker files missing after extraction.
	// It is reported like a validation failure and blocks before any
	// destructive step.
	ErrConsistency = errors.ConstError("consistency failure")

	// ErrMutation covers copy/move failures while staging, swapping or
	// restoring.
	ErrMutation = errors.ConstError("mutation failure")

	// ErrBusy is returned when another update or restore holds the
	// installation.
	ErrBusy = errors.ConstError("operation already in progress")
)

// Error is a classified operation failure.
type Error struct {
	Kind    error  // one of the Err* kinds above
	Op      string // "update", "restore", "backup", "stage", ...
	Reason  string // short, stable reason for the UI
	Mutated bool   // whether the installation tree was changed
	Err     error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Transient builds an ErrTransient failure.
func Transient(op, reason string, err error) *Error {
	return &Error{Kind: ErrTransient, Op: op, Reason: reason, Err: err}
}

// Validation builds an ErrValidation failure.
func Validation(op, reason string, err error) *Error {
	return &Error{Kind: ErrValidation, Op: op, Reason: reason, Err: err}
}

// Consistency builds an ErrConsistency failure.
func Consistency(op, reason string, err error) *Error {
	return &Error{Kind: ErrConsistency, Op: op, Reason: reason, Err: err}
}

// Mutation builds an ErrMutation failure. mutated records whether the live
// tree had already been touched.
func Mutation(op, reason string, mutated bool, err error) *Error {
	return &Error{Kind: ErrMutation, Op: op, Reason: reason, Mutated: mutated, Err: err}
}

// Busy builds an ErrBusy failure.
func Busy(op string) *Error {
	return &Error{Kind: ErrBusy, Op: op, Reason: "another update or restore is running"}
}

// Reason returns the short reason string of the outermost *Error in err's
// chain, or err.Error() if err is not classified.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return err.Error()
}

// WasMutated reports whether err records a mutated installation.
func WasMutated(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Mutated
	}
	return false
}

// IsSafeToRetry reports whether err belongs to a class that never touches
// the live installation.
func IsSafeToRetry(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConsistency)
}
