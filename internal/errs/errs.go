// Package errs defines the structured error taxonomy shared by every
// internal component (spec section 7). It lives apart from the root
// package so internal packages (wq, rq, store, xpt, match) can return these
// errors without importing the root package and creating an import cycle;
// the root package re-exports Code and Error under its own names.
package errs

import "fmt"

// Code is one taxonomy entry from spec section 7.
type Code int

const (
	_ Code = iota
	OutOfMemory
	PayloadTooLarge
	NotFound
	WrongType
	DoubleWrite
	Unset
	Closed
	Corrupted
	Shutdown
	Fatal
)

func (c Code) String() string {
	switch c {
	case OutOfMemory:
		return "OutOfMemory"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case NotFound:
		return "NotFound"
	case WrongType:
		return "WrongType"
	case DoubleWrite:
		return "DoubleWrite"
	case Unset:
		return "Unset"
	case Closed:
		return "Closed"
	case Corrupted:
		return "Corrupted"
	case Shutdown:
		return "Shutdown"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the structured error value every RPC and internal operation
// returns instead of raising an exception (spec section 7: "propagated as
// tagged result codes, never via exceptions").
type Error struct {
	Op    string // operation that raised the error, e.g. "Store"
	Code  Code
	Rank  int // rank at which the error originated, -1 if not applicable
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is lets errors.Is(err, errs.New(...)) match purely on Code, ignoring Op
// and Rank — callers usually only care which kind of failure occurred.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds an *Error for op/code with no rank or wrapped cause.
func New(op string, code Code) *Error {
	return &Error{Op: op, Code: code, Rank: -1}
}

// Newf builds an *Error wrapping inner.
func Newf(op string, code Code, inner error) *Error {
	return &Error{Op: op, Code: code, Rank: -1, Inner: inner}
}

// WithRank returns a copy of e stamped with rank.
func (e *Error) WithRank(rank int) *Error {
	c := *e
	c.Rank = rank
	return &c
}
