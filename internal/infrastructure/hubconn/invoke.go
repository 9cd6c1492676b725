package hubconn

import (
	"context"
	"fmt"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/completion"
	"go-hub-tunnel/internal/infrastructure/transport"
)

// InvokeCore calls method with an already encoded argument array and
// resolves to the raw result. The result is a copy owned by the caller.
func (c *Connection) InvokeCore(ctx context.Context, method string, args []byte) *completion.Future[codec.Value] {
	return c.begin(ctx, "invoke", method, func(h transport.Handle, slot transport.Context) transport.Action {
		return h.InvokeCore(method, args, c.complete, slot)
	})
}

// SendCore calls method without waiting for a result. The future resolves
// once the transport has sent the invocation.
func (c *Connection) SendCore(ctx context.Context, method string, args []byte) *completion.Future[struct{}] {
	return discard(c.begin(ctx, "send", method, func(h transport.Handle, slot transport.Context) transport.Action {
		return h.SendCore(method, args, c.completeUnit, slot)
	}))
}

// InvokeAsync encodes args, calls method and decodes the result into R. Use
// struct{} for methods without a result.
func InvokeAsync[R any](ctx context.Context, c *Connection, method string, args ...any) *completion.Future[R] {
	if c.Disposed() {
		return completion.Failed[R](ErrDisposed)
	}
	payload, err := codec.Encode(args...)
	if err != nil {
		return completion.Failed[R](fmt.Errorf("hubconn: encode arguments of %q: %w", method, err))
	}

	return completion.Map(c.InvokeCore(ctx, method, payload), func(v codec.Value) (R, error) {
		r, err := codec.As[R](v)
		if err != nil {
			return r, &DecodeError{Method: method, Index: ResultIndex, Err: err}
		}
		return r, nil
	})
}

// Invoke is InvokeAsync waiting for the result.
func Invoke[R any](ctx context.Context, c *Connection, method string, args ...any) (R, error) {
	return InvokeAsync[R](ctx, c, method, args...).Wait()
}

// SendAsync encodes args and sends method without expecting a result.
func (c *Connection) SendAsync(ctx context.Context, method string, args ...any) *completion.Future[struct{}] {
	if c.Disposed() {
		return completion.Failed[struct{}](ErrDisposed)
	}
	payload, err := codec.Encode(args...)
	if err != nil {
		return completion.Failed[struct{}](fmt.Errorf("hubconn: encode arguments of %q: %w", method, err))
	}
	return c.SendCore(ctx, method, payload)
}

// Send is SendAsync waiting until the invocation is on the wire.
func (c *Connection) Send(ctx context.Context, method string, args ...any) error {
	return c.SendAsync(ctx, method, args...).Err()
}
