// Package errs defines the error-kind taxonomy shared by every engine
// package: store, migrate, chaindb, namefsm, walletdb. Callers use
// errors.Is against the sentinel Kind values, or errors.As to recover the
// wrapped *Error for its Kind and any attached detail.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery-policy purposes. Kind values are
// themselves errors so that errors.Is(err, errs.NotFound) works directly
// against a wrapped *Error.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// Validation: caller-supplied input violates a contract.
	Validation Kind = "validation"
	// Consensus: a block fails a consensus rule; non-fatal, surfaces as a
	// verify reason.
	Consensus Kind = "consensus"
	// NotFound: a requested entity does not exist.
	NotFound Kind = "not_found"
	// Conflict: a double-spend or double-open detected.
	Conflict Kind = "conflict"
	// NeedsMigration: DB open refused; pending migration IDs exist.
	NeedsMigration Kind = "needs_migration"
	// VersionMismatch: DB open refused, no migration path.
	VersionMismatch Kind = "version_mismatch"
	// Corrupt: invariant violated in persisted data.
	Corrupt Kind = "corrupt"
	// IO: underlying storage failure; fatal to the current DB handle.
	IO Kind = "io"
	// Cancelled: cooperative cancellation observed.
	Cancelled Kind = "cancelled"
	// ChainTooShort: an operation needs more confirmed history than the
	// chain currently has (e.g. compacting the name tree's retention
	// window before enough blocks have been connected).
	ChainTooShort Kind = "chain_too_short"
)

// Error wraps an underlying cause with a recovery Kind and free-form detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind, so errors.Is(err,
// errs.NotFound) works without unwrapping to *Error explicitly.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// New builds an *Error with the given kind and formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Fatal reports whether a Kind's recovery policy is to close the database
// and surface to the operator, per spec: Corrupt and IO are fatal to the
// current DB handle; everything else is returned to the caller.
func (k Kind) Fatal() bool {
	return k == Corrupt || k == IO
}
