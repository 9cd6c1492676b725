package hubconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/transport"
)

// Handler serves one server to client invocation. Failures are logged; they
// never reach the server or close the connection.
type Handler func(ctx context.Context, args codec.Args) error

// On registers handler for method. argc is the number of arguments the
// handler accepts, or -1 for any number. Every registration for a method
// receives each invocation, in registration order.
//
// The returned function unregisters this registration only and may be called
// any number of times.
func (c *Connection) On(method string, argc int, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("hubconn: nil handler")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.handle
	if h == nil {
		return nil, ErrDisposed
	}

	slot := c.subs.add(&subscription{method: method, argc: argc, handler: handler})
	unregister := h.On(method, argc, c.dispatch, slot)
	if !c.subs.bind(slot, unregister) && unregister != nil {
		// A concurrent Remove dropped it before the transport answered.
		unregister()
	}

	return func() { c.unregister(slot) }, nil
}

func (c *Connection) unregister(slot transport.Context) {
	sub, ok := c.subs.remove(slot)
	if !ok {
		return
	}
	if sub.unregister != nil {
		sub.unregister()
	}
}

// Remove drops every registration for method.
func (c *Connection) Remove(method string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.handle
	if h == nil {
		return ErrDisposed
	}
	h.Remove(method)
	n := c.subs.removeMethod(method)
	c.log.Debugf("removed %d handler(s) for %s", n, method)
	return nil
}

// Subscriptions returns the number of live registrations for method.
func (c *Connection) Subscriptions(method string) int {
	return c.subs.count(method)
}

// dispatch is the DispatchFunc handed to the transport. The buffer is copied
// before the transport callback returns and the handler runs on its own
// goroutine; done is called exactly once whatever the handler does.
func (c *Connection) dispatch(slot transport.Context, args []byte, done transport.Action) {
	ack := sync.OnceFunc(done)

	sub, ok := c.subs.lookup(slot)
	if !ok {
		ack()
		return
	}
	buf := bytes.Clone(args)

	go func() {
		defer ack()

		err := c.invokeHandler(sub, buf)
		c.metrics.Dispatched(sub.method, err)
		if err != nil {
			c.log.WithField("method", sub.method).Warnf("handler failed: %v", err)
		}
	}()
}

func (c *Connection) invokeHandler(sub *subscription, buf []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hubconn: handler for %q panicked: %v", sub.method, r)
		}
	}()

	args, err := codec.Decode(buf)
	if err != nil {
		return &DecodeError{Method: sub.method, Index: -1, Err: err}
	}
	if sub.argc >= 0 && len(args) != sub.argc {
		return &DecodeError{
			Method: sub.method,
			Index:  -1,
			Err:    fmt.Errorf("%w: got %d, want %d", ErrArity, len(args), sub.argc),
		}
	}
	return sub.handler(c.ctx, args)
}
