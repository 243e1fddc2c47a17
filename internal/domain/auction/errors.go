package auction

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the machine-readable class of an engine error.
type Kind string

const (
	KindInvalid   Kind = "invalid"
	KindNotFound  Kind = "not_found"
	KindForbidden Kind = "forbidden"
	KindExpired   Kind = "expired"
	KindConflict  Kind = "conflict"
	KindBusy      Kind = "busy"
	KindInternal  Kind = "internal"
)

// Store failure classes. Repositories wrap driver errors with one of these.
var (
	ErrNotFound  = errors.New("record not found")
	ErrTransient = errors.New("transient store failure")
	ErrIntegrity = errors.New("integrity violation")
)

// errCASLost marks a price update that lost its compare-and-swap.
var errCASLost = errors.New("price changed concurrently")

// Error is returned by every engine operation. Msg is safe to show to end
// users; Err keeps the cause for logs and errors.Is.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err. Errors that did not come from the engine
// are reported as KindInternal, nil as the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsInvalid(err error) bool   { return KindOf(err) == KindInvalid }
func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }
func IsExpired(err error) bool   { return KindOf(err) == KindExpired }
func IsConflict(err error) bool  { return KindOf(err) == KindConflict }
func IsBusy(err error) bool      { return KindOf(err) == KindBusy }
func IsInternal(err error) bool  { return KindOf(err) == KindInternal }

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindBusy:
		return true
	}
	return false
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
