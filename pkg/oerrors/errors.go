// Package oerrors provides the enumerated error taxonomy shared by every
// core operation. Every public entry point returns one of these kinds
// instead of an ad-hoc error, so callers can branch on Kind without string
// matching.
package oerrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the abstract error taxonomy.
type Kind string

const (
	NotFound             Kind = "not_found"
	InvalidInput         Kind = "invalid_input"
	EmbedDimMismatch     Kind = "embed_dim_mismatch"
	CGNonFinite          Kind = "cg_non_finite"
	Busy                 Kind = "busy"
	ACLDenyMissingClaims Kind = "acl_deny_missing_claims"
	DeadlineExceeded     Kind = "deadline_exceeded"
	IO                   Kind = "io"
	Integrity            Kind = "integrity"
)

// Error wraps a Kind and an optional cause. It implements error and
// supports errors.Is/errors.Unwrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether the first *Error in err's chain has the given Kind.
// An *Error wrapped inside another *Error is not inspected.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
