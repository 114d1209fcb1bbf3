package adlb

import (
	"fmt"

	"github.com/adlb-go/adlb/internal/errs"
)

// Code is the structured error taxonomy from spec section 7. It is a type
// alias for internal/errs.Code so callers can use errors.As/errors.Is
// against either package's symbols interchangeably.
type Code = errs.Code

// Error is the structured error value every RPC and internal operation
// returns instead of raising an exception.
type Error = errs.Error

const (
	OutOfMemory     = errs.OutOfMemory
	PayloadTooLarge = errs.PayloadTooLarge
	NotFound        = errs.NotFound
	WrongType       = errs.WrongType
	DoubleWrite     = errs.DoubleWrite
	Unset           = errs.Unset
	Closed          = errs.Closed
	Corrupted       = errs.Corrupted
	Shutdown        = errs.Shutdown
	Fatal           = errs.Fatal
)

// NewError builds an *Error for op/code with no rank or wrapped cause.
func NewError(op string, code Code) *Error { return errs.New(op, code) }

// NewErrorf builds an *Error wrapping inner.
func NewErrorf(op string, code Code, inner error) *Error { return errs.Newf(op, code, inner) }

// FatalFunc is invoked whenever a Fatal-coded error surfaces from the data
// store (spec section 7: refcount underflow and similar invariant
// violations are unrecoverable). This module has no MPI_Abort to call, so
// the default panics; embedders (tests, cmd/adlb-demo) may override it to
// do something softer, e.g. log and os.Exit.
var FatalFunc = func(err error) {
	panic(fmt.Sprintf("adlb: fatal error: %v", err))
}

// raiseFatal invokes FatalFunc if err carries a Fatal code, returning err
// unchanged either way so callers can still propagate it.
func raiseFatal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if ok := asError(err, &e); ok && e.Code == Fatal {
		FatalFunc(err)
	}
	return err
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
