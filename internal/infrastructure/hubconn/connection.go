// Package hubconn is the typed hub connection built on a callback transport.
//
// Every transport call is asynchronous: the connection hands the transport a
// context value naming a slot in one of its tables, and the transport echoes
// that value back on completion, dispatch or notification. Slots are released
// exactly once, by whichever of completion, cancellation, unregistration or
// dispose comes first, so late callbacks find nothing and are dropped.
package hubconn

import (
	"bytes"
	"context"
	"sync"

	"go-hub-tunnel/internal/infrastructure/codec"
	"go-hub-tunnel/internal/infrastructure/completion"
	"go-hub-tunnel/internal/infrastructure/handles"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/metrics"
	"go-hub-tunnel/internal/infrastructure/transport"
)

// Connection is a hub connection. All methods are safe for concurrent use and
// none of the Async forms block.
type Connection struct {
	// mu guards handle. Calls hold it for reading while they talk to the
	// transport; Dispose takes it for writing to detach the handle.
	mu     sync.RWMutex
	handle transport.Handle

	log     logger.Logger
	metrics *metrics.Bridge

	// ctx is passed to handlers and token providers and ends at Dispose.
	ctx    context.Context
	cancel context.CancelFunc

	owners    *handles.Table[*owner]
	ownerSlot transport.Context
	pending   *handles.Table[func(err error, result []byte)]
	subs      *registry
}

func newConnection(o options, tokens TokenProvider) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		log:     o.logger.WithField("component", "hubconn"),
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
		owners:  handles.NewTable[*owner](),
		pending: handles.NewTable[func(error, []byte)](),
		subs:    newRegistry(),
	}
	c.ownerSlot = c.owners.Put(&owner{hooks: o.hooks, tokens: tokens})
	return c
}

// NewNamedPipe builds a connection to a hub listening on a named pipe. An
// empty serverName means the local machine.
func NewNamedPipe(pipeName, serverName string, opts ...Option) (*Connection, error) {
	if serverName == "" {
		serverName = "."
	}
	o := buildOptions(opts)
	c := newConnection(o, nil)

	h, err := o.builder.BuildWithNamedPipe(pipeName, serverName, c.eventHandlers(), c.ownerSlot)
	if err != nil {
		c.abandon()
		return nil, &TransportError{Op: "build", Err: err}
	}
	c.handle = h
	c.log = c.log.WithField("pipe", pipeName)
	return c, nil
}

// NewURL builds a connection to a hub endpoint. tokens may be nil.
func NewURL(url string, tokens TokenProvider, opts ...Option) (*Connection, error) {
	o := buildOptions(opts)
	c := newConnection(o, tokens)

	h, err := o.builder.BuildWithURL(url, c.requestToken, c.eventHandlers(), c.ownerSlot)
	if err != nil {
		c.abandon()
		return nil, &TransportError{Op: "build", Err: err}
	}
	c.handle = h
	c.log = c.log.WithField("url", url)
	return c, nil
}

func (c *Connection) abandon() {
	c.owners.Delete(c.ownerSlot)
	c.cancel()
}

// Disposed reports whether Dispose has been called.
func (c *Connection) Disposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle == nil
}

// StartAsync connects to the hub. Ending ctx before the transport reports
// back cancels the attempt and rejects the future with ErrCanceled.
func (c *Connection) StartAsync(ctx context.Context) *completion.Future[struct{}] {
	return discard(c.begin(ctx, "start", "", func(h transport.Handle, slot transport.Context) transport.Action {
		return h.Start(c.completeUnit, slot)
	}))
}

// Start is StartAsync waiting for the outcome.
func (c *Connection) Start(ctx context.Context) error {
	return c.StartAsync(ctx).Err()
}

// StopAsync disconnects from the hub. The Closed hook fires once the
// transport has torn the session down.
func (c *Connection) StopAsync(ctx context.Context) *completion.Future[struct{}] {
	return discard(c.begin(ctx, "stop", "", func(h transport.Handle, slot transport.Context) transport.Action {
		return h.Stop(c.completeUnit, slot)
	}))
}

// Stop is StopAsync waiting for the outcome.
func (c *Connection) Stop(ctx context.Context) error {
	return c.StopAsync(ctx).Err()
}

// DisposeAsync detaches the transport and drops every subscription. Only the
// first call reaches the transport; later calls resolve right away. The
// connection is unusable afterwards even when the transport reports an
// error, which the future still carries.
func (c *Connection) DisposeAsync() *completion.Future[struct{}] {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	if h == nil {
		c.mu.Unlock()
		return completion.Resolved(struct{}{})
	}
	dropped := c.subs.drain()
	c.mu.Unlock()

	c.cancel()
	c.log.Debugf("disposing, %d subscription(s) dropped", len(dropped))

	f := completion.New[struct{}]()
	finish := c.metrics.Begin("dispose")
	slot := c.pending.Put(func(err error, _ []byte) {
		// The transport is done with us: late notifications are
		// acknowledged without reaching the hooks, and operations it never
		// answered are failed.
		c.owners.Delete(c.ownerSlot)
		for _, fail := range c.pending.Drain() {
			fail(ErrDisposed, nil)
		}

		finish(err)
		if err != nil {
			f.Reject(&TransportError{Op: "dispose", Err: err})
			return
		}
		f.Resolve(struct{}{})
	})
	h.Dispose(c.completeUnit, slot)
	return f
}

// Dispose is DisposeAsync waiting for the transport to let go.
func (c *Connection) Dispose() error {
	return c.DisposeAsync().Err()
}

// begin issues one transport operation under the read lock and bridges its
// completion into a future bound to ctx.
func (c *Connection) begin(ctx context.Context, op, method string, issue func(transport.Handle, transport.Context) transport.Action) *completion.Future[codec.Value] {
	f := completion.New[codec.Value]()

	c.mu.RLock()
	h := c.handle
	if h == nil {
		c.mu.RUnlock()
		f.Reject(ErrDisposed)
		return f
	}

	finish := c.metrics.Begin(op)
	f.Then(func(_ codec.Value, err error) { finish(err) })

	slot := c.pending.Put(func(err error, result []byte) {
		if err != nil {
			f.Reject(&TransportError{Op: op, Method: method, Err: err})
			return
		}
		f.Resolve(codec.Value(bytes.Clone(result)))
	})
	cancel := issue(h, slot)
	c.mu.RUnlock()

	f.Bind(ctx, func() {
		c.pending.Delete(slot)
		if cancel != nil {
			cancel()
		}
	})
	return f
}

// complete is the ResultFunc handed to the transport. Only the first report
// for a slot is delivered.
func (c *Connection) complete(slot transport.Context, err error, result []byte) {
	settle, ok := c.pending.Delete(slot)
	if !ok {
		return
	}
	settle(err, result)
}

func (c *Connection) completeUnit(slot transport.Context, err error) {
	c.complete(slot, err, nil)
}

func discard(f *completion.Future[codec.Value]) *completion.Future[struct{}] {
	return completion.Map(f, func(codec.Value) (struct{}, error) { return struct{}{}, nil })
}
