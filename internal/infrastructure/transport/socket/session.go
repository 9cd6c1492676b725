package socket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/transport"
)

const dispatchQueueSize = 64

var (
	errServerTimeout = errors.New("socket: server timeout elapsed without receiving a message from the server")
	errServerClosed  = errors.New("socket: server closed the connection")
)

// CloseError is a close message from the server that carried an error.
type CloseError struct {
	Message        string
	AllowReconnect bool
}

func (e *CloseError) Error() string {
	return "socket: server closed the connection with an error: " + e.Message
}

// session is one connected transport. It ends when any of its loops fails
// or when it is cancelled.
type session struct {
	conn     hubproto.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	lastRead atomic.Int64
}

func (s *session) touch() { s.lastRead.Store(time.Now().UnixNano()) }

func (s *session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastRead.Load()))
}

// runSession must be called with c.mu held.
func (c *client) runSession(conn hubproto.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, cancel: cancel, done: make(chan struct{})}
	s.touch()
	c.session = s

	invocations := make(chan *hubproto.Invocation, dispatchQueueSize)
	g, gctx := errgroup.WithContext(ctx)
	context.AfterFunc(gctx, func() { conn.Close() })

	g.Go(func() error { return c.readLoop(gctx, s, invocations) })
	g.Go(func() error { return c.dispatchLoop(gctx, s, invocations) })
	g.Go(func() error { return c.keepAlive(gctx, s) })

	go func() {
		err := g.Wait()
		cancel()
		next := c.sessionEnded(s, err)
		close(s.done)
		next()
	}()
}

func (c *client) readLoop(ctx context.Context, s *session, out chan<- *hubproto.Invocation) error {
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("socket: read: %w", err)
		}
		s.touch()

		switch m := msg.(type) {
		case *hubproto.Invocation:
			select {
			case out <- m:
			case <-ctx.Done():
				return nil
			}
		case *hubproto.Completion:
			c.complete(m)
		case *hubproto.Ping:
		case *hubproto.Close:
			if m.Error != "" {
				return &CloseError{Message: m.Error, AllowReconnect: m.AllowReconnect}
			}
			return errServerClosed
		default:
			c.log.Debugf("ignoring %T from server", msg)
		}
	}
}

// dispatchLoop hands invocations to handlers one at a time. Every handler
// registered for the target runs, in registration order, and each must
// acknowledge before the next starts.
func (c *client) dispatchLoop(ctx context.Context, s *session, in <-chan *hubproto.Invocation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case inv := <-in:
			if !c.dispatch(ctx, inv) {
				return nil
			}
			if inv.InvocationID != "" {
				reply := &hubproto.Completion{
					InvocationID: inv.InvocationID,
					Error:        "Client results are not supported.",
				}
				if err := s.conn.WriteMessage(reply); err != nil && ctx.Err() == nil {
					return fmt.Errorf("socket: send completion: %w", err)
				}
			}
		}
	}
}

func (c *client) dispatch(ctx context.Context, inv *hubproto.Invocation) bool {
	subs := c.handlersFor(inv.Target)
	if len(subs) == 0 {
		c.log.Warnf("no client method with the name '%s' found", inv.Target)
		return true
	}

	argc := argumentCount(inv.Arguments)
	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		if sub.argc >= 0 && argc != sub.argc {
			c.log.Warnf("failed to bind arguments for '%s': got %d, handler expects %d", inv.Target, argc, sub.argc)
			continue
		}
		if !deliver(ctx, sub, inv.Arguments) {
			return false
		}
	}
	return true
}

// deliver waits for the handler's acknowledgement. It gives up, returning
// false, when ctx ends first.
func deliver(ctx context.Context, sub *subscription, args []byte) bool {
	acked := make(chan struct{})
	var once sync.Once
	sub.handler(sub.ctx, args, func() { once.Do(func() { close(acked) }) })

	select {
	case <-acked:
		return true
	case <-ctx.Done():
		return false
	}
}

func argumentCount(args []byte) int {
	n, err := msgpack.NewDecoder(bytes.NewReader(args)).DecodeArrayLen()
	if err != nil {
		return -1
	}
	if n < 0 {
		return 0
	}
	return n
}

func (c *client) keepAlive(ctx context.Context, s *session) error {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.opts.ServerTimeout > 0 && s.idle() > c.opts.ServerTimeout {
				return errServerTimeout
			}
			if err := s.conn.WriteMessage(&hubproto.Ping{}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("socket: send ping: %w", err)
			}
		}
	}
}

// sessionEnded records the end of s and returns what follows it: the
// closed notification or a reconnect loop. A session detached by Stop or
// Dispose always ends cleanly.
func (c *client) sessionEnded(s *session, err error) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	requested := c.session != s || c.state != connected
	if c.session == s {
		c.session = nil
		c.failPendingLocked()
	}
	if requested || errors.Is(err, errServerClosed) {
		err = nil
	}

	if !requested && c.canReconnect(err) {
		ctx, cancel := context.WithCancel(context.Background())
		c.state = reconnecting
		c.abort = cancel
		return func() { c.reconnect(ctx, err) }
	}
	if !requested {
		c.state = disconnected
	}

	return func() {
		if err != nil {
			c.log.Warnf("connection closed with an error: %v", err)
		} else {
			c.log.Debug("connection closed")
		}
		c.notifyClosed(err)
	}
}

func (c *client) canReconnect(err error) bool {
	if err == nil || len(c.opts.ReconnectDelays) == 0 {
		return false
	}
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.AllowReconnect
	}
	return true
}

func (c *client) reconnect(ctx context.Context, cause error) {
	c.log.Warnf("connection lost, reconnecting: %v", cause)
	c.notify(func(done transport.Action) {
		if c.handlers.Reconnecting != nil {
			c.handlers.Reconnecting(c.hctx, cause, done)
		} else {
			done()
		}
	})

	lastErr := cause
	for attempt, delay := range c.opts.ReconnectDelays {
		if !sleep(ctx, delay) {
			break
		}
		conn, err := c.connect(ctx)
		if err != nil {
			lastErr = err
			c.log.Warnf("reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}

		c.mu.Lock()
		if c.state != reconnecting {
			c.mu.Unlock()
			conn.Close()
			c.notifyClosed(nil)
			return
		}
		c.state = connected
		c.abort = nil
		c.runSession(conn)
		c.mu.Unlock()

		c.log.Infof("reconnected after %d attempt(s)", attempt+1)
		c.notify(func(done transport.Action) {
			if c.handlers.Reconnected != nil {
				c.handlers.Reconnected(c.hctx, done)
			} else {
				done()
			}
		})
		return
	}

	c.mu.Lock()
	aborted := c.state != reconnecting
	if !aborted {
		c.state = disconnected
		c.abort = nil
	}
	c.mu.Unlock()

	if aborted {
		lastErr = nil
	} else {
		c.log.Errorf("giving up reconnecting: %v", lastErr)
	}
	c.notifyClosed(lastErr)
}

func (c *client) notifyClosed(err error) {
	c.notify(func(done transport.Action) {
		if c.handlers.Closed != nil {
			c.handlers.Closed(c.hctx, err, done)
		} else {
			done()
		}
	})
}

// notify blocks until the receiver calls done.
func (c *client) notify(call func(done transport.Action)) {
	acked := make(chan struct{})
	var once sync.Once
	call(func() { once.Do(func() { close(acked) }) })
	<-acked
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
