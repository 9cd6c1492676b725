package socket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/transport"
)

var (
	ErrDisposed        = errors.New("socket: connection is disposed")
	ErrNotConnected    = errors.New("socket: connection is not in the connected state")
	ErrNotDisconnected = errors.New("socket: connection is not in the disconnected state")
	ErrStopped         = errors.New("socket: connection was stopped while starting")
	ErrConnectionLost  = errors.New("socket: connection lost before the invocation completed")
)

// ServerError is a failed completion reported by the server.
type ServerError struct {
	Method  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("socket: invocation of %q failed on the server: %s", e.Method, e.Message)
}

type state int

const (
	disconnected state = iota
	connecting
	connected
	reconnecting
	disposed
)

func (s state) String() string {
	switch s {
	case disconnected:
		return "disconnected"
	case connecting:
		return "connecting"
	case connected:
		return "connected"
	case reconnecting:
		return "reconnecting"
	case disposed:
		return "disposed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

type dialFunc func(ctx context.Context) (hubproto.Conn, error)

type subscription struct {
	method  string
	argc    int
	handler transport.DispatchFunc
	ctx     transport.Context
	removed atomic.Bool
}

type client struct {
	dial     dialFunc
	handlers transport.EventHandlers
	hctx     transport.Context
	opts     Options
	log      logger.Logger

	mu      sync.Mutex
	state   state
	session *session
	abort   context.CancelFunc // cancels an in-progress connect or reconnect loop
	subs    map[string][]*subscription
	pending map[string]chan *hubproto.Completion
	nextID  uint64
}

var _ transport.Handle = (*client)(nil)

func newClient(dial dialFunc, endpoint string, handlers *transport.EventHandlers, hctx transport.Context, opts Options) *client {
	c := &client{
		dial:    dial,
		hctx:    hctx,
		opts:    opts,
		log:     opts.Logger.WithField("component", "socket").WithField("endpoint", endpoint),
		subs:    make(map[string][]*subscription),
		pending: make(map[string]chan *hubproto.Completion),
	}
	if handlers != nil {
		c.handlers = *handlers
	}
	return c
}

func (c *client) Start(cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	opCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		err := c.start(opCtx)
		if cb != nil {
			cb(ctx, err)
		}
	}()
	return transport.Action(cancel)
}

func (c *client) start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case disconnected:
	case disposed:
		c.mu.Unlock()
		return ErrDisposed
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDisconnected, st)
	}
	ctx, abort := context.WithCancel(ctx)
	defer abort()
	c.state = connecting
	c.abort = abort
	c.mu.Unlock()

	conn, err := c.connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connecting {
		if conn != nil {
			conn.Close()
		}
		return ErrStopped
	}
	c.abort = nil
	if err != nil {
		c.state = disconnected
		return err
	}
	c.state = connected
	c.runSession(conn)
	c.log.Info("connection started")
	return nil
}

// connect dials and completes the handshake within HandshakeTimeout.
func (c *client) connect(ctx context.Context) (hubproto.Conn, error) {
	if c.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = handshake(conn)
	if !stop() {
		conn.Close()
		return nil, fmt.Errorf("socket: handshake: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func handshake(conn hubproto.Conn) error {
	if err := conn.WriteHandshake(hubproto.HandshakeRequestRecord()); err != nil {
		return fmt.Errorf("socket: send handshake: %w", err)
	}
	record, err := conn.ReadHandshake()
	if err != nil {
		return fmt.Errorf("socket: read handshake response: %w", err)
	}
	return hubproto.ParseHandshakeResponse(record)
}

func (c *client) Stop(cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	opCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		err := c.stop(opCtx)
		if cb != nil {
			cb(ctx, err)
		}
	}()
	return transport.Action(cancel)
}

func (c *client) stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.failPendingLocked()
	abort := c.abort
	c.abort = nil
	if c.state != disposed {
		c.state = disconnected
	}
	c.mu.Unlock()

	if abort != nil {
		abort()
	}
	if s == nil {
		return nil
	}

	if err := s.conn.WriteMessage(&hubproto.Close{}); err != nil {
		c.log.Debugf("failed to send close message: %v", err)
	}
	s.cancel()

	select {
	case <-s.done:
		c.log.Info("connection stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) Dispose(cb transport.CompletionFunc, ctx transport.Context) {
	c.mu.Lock()
	c.state = disposed
	c.mu.Unlock()

	go func() {
		err := c.stop(context.Background())

		c.mu.Lock()
		clear(c.subs)
		c.mu.Unlock()

		if cb != nil {
			cb(ctx, err)
		}
	}()
}

func (c *client) On(method string, argc int, handler transport.DispatchFunc, ctx transport.Context) transport.Action {
	sub := &subscription{method: method, argc: argc, handler: handler, ctx: ctx}

	c.mu.Lock()
	c.subs[method] = append(slices.Clip(c.subs[method]), sub)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		sub.removed.Store(true)
		list := slices.DeleteFunc(slices.Clone(c.subs[method]), func(s *subscription) bool { return s == sub })
		if len(list) == 0 {
			delete(c.subs, method)
			return
		}
		c.subs[method] = list
	}
}

func (c *client) Remove(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs[method] {
		sub.removed.Store(true)
	}
	delete(c.subs, method)
}

// handlersFor returns a snapshot; registrations never mutate a published slice.
func (c *client) handlersFor(method string) []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subs[method]
}

func (c *client) InvokeCore(method string, args []byte, cb transport.ResultFunc, ctx transport.Context) transport.Action {
	payload := bytes.Clone(args)
	opCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		result, err := c.invoke(opCtx, method, payload)
		if cb != nil {
			cb(ctx, err, result)
		}
	}()
	return transport.Action(cancel)
}

func (c *client) invoke(ctx context.Context, method string, args []byte) ([]byte, error) {
	c.mu.Lock()
	s, err := c.activeLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	reply := make(chan *hubproto.Completion, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	err = s.conn.WriteMessage(&hubproto.Invocation{InvocationID: id, Target: method, Arguments: args})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("socket: send invocation of %q: %w", method, err)
	}

	select {
	case m := <-reply:
		if m == nil {
			return nil, ErrConnectionLost
		}
		if m.Error != "" {
			return nil, &ServerError{Method: method, Message: m.Error}
		}
		return m.Result, nil
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *client) SendCore(method string, args []byte, cb transport.CompletionFunc, ctx transport.Context) transport.Action {
	payload := bytes.Clone(args)
	opCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		err := c.send(opCtx, method, payload)
		if cb != nil {
			cb(ctx, err)
		}
	}()
	return transport.Action(cancel)
}

func (c *client) send(ctx context.Context, method string, args []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	s, err := c.activeLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(&hubproto.Invocation{Target: method, Arguments: args}); err != nil {
		return fmt.Errorf("socket: send %q: %w", method, err)
	}
	return nil
}

func (c *client) activeLocked() (*session, error) {
	switch {
	case c.state == disposed:
		return nil, ErrDisposed
	case c.state != connected || c.session == nil:
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.state)
	}
	return c.session, nil
}

func (c *client) complete(m *hubproto.Completion) {
	c.mu.Lock()
	reply, ok := c.pending[m.InvocationID]
	delete(c.pending, m.InvocationID)
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("dropping completion for unknown invocation %s", m.InvocationID)
		return
	}
	reply <- m
}

func (c *client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPendingLocked ends every outstanding invocation with ErrConnectionLost.
func (c *client) failPendingLocked() {
	for id, reply := range c.pending {
		reply <- nil
		delete(c.pending, id)
	}
}
