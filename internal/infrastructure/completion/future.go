// Package completion turns callback-style completions into awaitable values.
package completion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCanceled is matched by every cancellation error produced by this package.
var ErrCanceled = errors.New("operation canceled")

// CanceledError is the rejection of a future whose context ended first. It
// unwraps to the context's cause, so a deadline reads as
// context.DeadlineExceeded.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	if e.Cause == nil {
		return ErrCanceled.Error()
	}
	return ErrCanceled.Error() + ": " + e.Cause.Error()
}

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

func (e *CanceledError) Unwrap() error { return e.Cause }

// Future is a single-assignment result. The first Resolve or Reject wins;
// later calls are no-ops.
type Future[T any] struct {
	settled atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	finished  bool
	callbacks []func(T, error)

	value T
	err   error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

func (f *Future[T]) Resolve(v T) bool { return f.settle(v, nil) }

func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	if !f.settled.CompareAndSwap(false, true) {
		return false
	}

	f.mu.Lock()
	f.value, f.err = v, err
	f.finished = true
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
	close(f.done)
	return true
}

// Then runs fn once the future settles, on the settling goroutine, or right
// away when it already has. Waiters are released only after every fn queued
// before the settle has returned, so fn must not wait on f.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if f.finished {
		v, err := f.value, f.err
		f.mu.Unlock()
		fn(v, err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Settled reports whether a value or error has been assigned.
func (f *Future[T]) Settled() bool { return f.settled.Load() }

func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

func (f *Future[T]) Err() error {
	_, err := f.Wait()
	return err
}

// Await waits for the future or for ctx, whichever comes first. Giving up on
// ctx leaves the future untouched.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, &CanceledError{Cause: context.Cause(ctx)}
	}
}

// Bind ties the future to ctx. If ctx ends before the future settles, the
// future is rejected with a *CanceledError and cancel runs exactly once. If the
// future settles first, cancel never runs.
func (f *Future[T]) Bind(ctx context.Context, cancel func()) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() {
		if f.Reject(&CanceledError{Cause: context.Cause(ctx)}) && cancel != nil {
			cancel()
		}
	})
	f.Then(func(T, error) { stop() })
}

// Map derives a future whose value is fn applied to f's value. Errors from f
// pass through unchanged.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	f.Then(func(v T, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(u)
	})
	return out
}
