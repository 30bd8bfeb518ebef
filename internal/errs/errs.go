// Package errs carries the error kinds shared by the status board: input and
// rule rejections, remote write failures, load failures and change feed
// failures. Kinds survive wrapping so handlers can map them to responses.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how callers are expected to react to it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindWrite        Kind = "write"
	KindLoad         Kind = "load"
	KindSubscription Kind = "subscription"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newKind(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation marks err as a rejected request: bad input, a closed gate or a
// mutation already in flight. Nothing was written.
func Validation(op string, err error) error { return newKind(KindValidation, op, err) }

// Write marks err as a failed remote write.
func Write(op string, err error) error { return newKind(KindWrite, op, err) }

// Load marks err as a failed read of the remote data set.
func Load(op string, err error) error { return newKind(KindLoad, op, err) }

// Subscription marks err as a broken change feed.
func Subscription(op string, err error) error { return newKind(KindSubscription, op, err) }

// KindOf returns the kind of the first classified error in the chain, or ""
// when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap adds context and preserves the error chain (errors.Is/As works).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context and preserves the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}
