package hubconn

import (
	"context"
	"fmt"

	"go-hub-tunnel/internal/infrastructure/transport"
)

// Hooks receive connection notifications. They run on their own goroutine;
// the transport is acknowledged when the hook returns, fails or panics.
type Hooks interface {
	OnClosed(ctx context.Context, err error) error
	OnReconnected(ctx context.Context) error
	OnReconnecting(ctx context.Context, err error) error
}

// NopHooks ignores every notification.
type NopHooks struct{}

func (NopHooks) OnClosed(context.Context, error) error       { return nil }
func (NopHooks) OnReconnected(context.Context) error         { return nil }
func (NopHooks) OnReconnecting(context.Context, error) error { return nil }

// HookFuncs adapts plain functions to Hooks. Nil fields are no-ops.
type HookFuncs struct {
	Closed       func(ctx context.Context, err error) error
	Reconnected  func(ctx context.Context) error
	Reconnecting func(ctx context.Context, err error) error
}

func (h HookFuncs) OnClosed(ctx context.Context, err error) error {
	if h.Closed == nil {
		return nil
	}
	return h.Closed(ctx, err)
}

func (h HookFuncs) OnReconnected(ctx context.Context) error {
	if h.Reconnected == nil {
		return nil
	}
	return h.Reconnected(ctx)
}

func (h HookFuncs) OnReconnecting(ctx context.Context, err error) error {
	if h.Reconnecting == nil {
		return nil
	}
	return h.Reconnecting(ctx, err)
}

// owner is what the transport reaches through the connection context value.
type owner struct {
	hooks  Hooks
	tokens TokenProvider
}

func (c *Connection) eventHandlers() *transport.EventHandlers {
	return &transport.EventHandlers{
		Closed: func(tctx transport.Context, err error, done transport.Action) {
			c.runHook("closed", tctx, done, func(ctx context.Context, h Hooks) error { return h.OnClosed(ctx, err) })
		},
		Reconnected: func(tctx transport.Context, done transport.Action) {
			c.runHook("reconnected", tctx, done, func(ctx context.Context, h Hooks) error { return h.OnReconnected(ctx) })
		},
		Reconnecting: func(tctx transport.Context, err error, done transport.Action) {
			c.runHook("reconnecting", tctx, done, func(ctx context.Context, h Hooks) error { return h.OnReconnecting(ctx, err) })
		},
	}
}

// runHook acknowledges notifications for a released owner right away.
func (c *Connection) runHook(name string, tctx transport.Context, done transport.Action, call func(context.Context, Hooks) error) {
	o, ok := c.owners.Get(tctx)
	if !ok {
		done()
		return
	}

	go func() {
		defer done()
		err := safeCall(func() error { return call(context.Background(), o.hooks) })
		if err != nil {
			c.log.WithField("hook", name).Errorf("hook failed: %v", err)
		}
	}()
}

// requestToken never blocks the transport: the provider runs on its own
// goroutine and any failure is answered with an empty token.
func (c *Connection) requestToken(tctx transport.Context, reply func(token string)) {
	o, ok := c.owners.Get(tctx)
	if !ok || o.tokens == nil {
		reply("")
		return
	}

	go func() {
		var token string
		err := safeCall(func() error {
			t, err := o.tokens(c.ctx)
			token = t
			return err
		})
		if err != nil {
			c.log.Warnf("access token provider failed: %v", err)
			token = ""
		}
		reply(token)
	}()
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
