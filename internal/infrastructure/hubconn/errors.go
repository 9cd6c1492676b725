package hubconn

import (
	"errors"
	"fmt"

	"go-hub-tunnel/internal/infrastructure/completion"
)

var (
	// ErrDisposed is returned by every call issued after Dispose.
	ErrDisposed = errors.New("hubconn: connection is disposed")

	// ErrCanceled matches operations whose context ended before the
	// transport reported back. A caller imposed deadline also matches
	// context.DeadlineExceeded.
	ErrCanceled = completion.ErrCanceled

	// ErrArity is wrapped in a DecodeError when a dispatched event carries a
	// different number of arguments than its handler takes.
	ErrArity = errors.New("hubconn: argument count mismatch")
)

// ResultIndex is the DecodeError index of an invocation result.
const ResultIndex = -2

// TransportError is a failure reported by the transport for an operation.
type TransportError struct {
	Op     string
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("hubconn: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hubconn: %s %q: %v", e.Op, e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports an argument array or result that did not match the
// expected shape. Index is the argument position, -1 for the array as a
// whole, or ResultIndex.
type DecodeError struct {
	Method string
	Index  int
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Index {
	case -1:
		return fmt.Sprintf("hubconn: decode arguments of %q: %v", e.Method, e.Err)
	case ResultIndex:
		return fmt.Sprintf("hubconn: decode result of %q: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("hubconn: decode argument %d of %q: %v", e.Index, e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
