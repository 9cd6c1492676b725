package hub

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"

	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// SSEConnection is a read-only monitor: every message sent to it is written
// as a server-sent event named after the message target.
type SSEConnection struct {
	id      string
	writer  http.ResponseWriter
	request *http.Request

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	writeMu sync.Mutex

	logger logger.Logger

	// Keep-alive mechanism
	lastActivity      time.Time
	activityMu        sync.RWMutex
	keepAliveInterval time.Duration
}

// NewSSEConnection creates a new SSE connection
func NewSSEConnection(
	ctx context.Context,
	id string,
	w http.ResponseWriter,
	r *http.Request,
	logger logger.Logger,
	keepAliveInterval time.Duration,
) *SSEConnection {
	rctx, cancel := context.WithCancel(ctx)

	conn := &SSEConnection{
		id:                id,
		writer:            w,
		request:           r,
		ctx:               rctx,
		cancel:            cancel,
		logger:            logger.WithField("connection_id", id),
		lastActivity:      time.Now(),
		keepAliveInterval: keepAliveInterval,
	}

	conn.setupSSEHeaders()

	go conn.keepAlive()

	return conn
}

func (c *SSEConnection) ID() string {
	return c.id
}

func (c *SSEConnection) Type() string {
	return "sse"
}

// Send writes message as one event
func (c *SSEConnection) Send(ctx context.Context, message *Message) error {
	if c.IsClosed() {
		return fmt.Errorf("client is closed")
	}

	c.updateActivity()

	var buf bytes.Buffer
	if err := sse.Encode(&buf, sse.Event{
		Id:    message.ID,
		Event: message.Target,
		Data:  message.Arguments,
	}); err != nil {
		return fmt.Errorf("failed to format SSE message: %w", err)
	}

	// Write message to client with timeout
	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if _, err := c.writer.Write(buf.Bytes()); err != nil {
			done <- err
			return
		}

		// Flush the data to ensure it's sent immediately
		if flusher, ok := c.writer.(http.Flusher); ok {
			flusher.Flush()
		}

		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Errorf("Failed to write message: %v", err)
			c.Close()
			return err
		}
		return nil

	case <-ctx.Done():
		c.logger.Warn("Send operation cancelled")
		return ctx.Err()

	case <-c.ctx.Done():
		return fmt.Errorf("client is closed")

	case <-time.After(10 * time.Second):
		c.logger.Warn("Send operation timed out")
		c.Close()
		return fmt.Errorf("send timeout")
	}
}

// Close gracefully closes the connection
func (c *SSEConnection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()

	c.logger.Info("SSE connection closed")
	return nil
}

func (c *SSEConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *SSEConnection) Context() context.Context {
	return c.ctx
}

func (c *SSEConnection) setupSSEHeaders() {
	c.writer.Header().Set("Content-Type", sse.ContentType)
	c.writer.Header().Set("Cache-Control", "no-cache")
	c.writer.Header().Set("Connection", "keep-alive")
	c.writer.Header().Set("X-Accel-Buffering", "no") // For nginx
	c.writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.writer.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
}

// keepAlive sends periodic keep-alive events to maintain connection
func (c *SSEConnection) keepAlive() {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.activityMu.RLock()
			lastActivity := c.lastActivity
			c.activityMu.RUnlock()

			if time.Since(lastActivity) > 5*time.Minute {
				c.logger.Info("Connection inactive for too long, closing connection")
				c.Close()
				return
			}

			if err := c.Send(context.Background(), Invocation(TargetKeepAlive, time.Now().Unix())); err != nil {
				c.logger.Errorf("Failed to send keep-alive: %v", err)
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *SSEConnection) updateActivity() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}

// ProtocolConnection is a hub protocol peer on a websocket or a local socket.
// Outbound invocations, completions and pings share one ordered write queue.
type ProtocolConnection struct {
	id       string
	connType string
	conn     hubproto.Conn
	invoker  Invoker

	ctx    context.Context
	cancel context.CancelFunc

	closed      bool
	closeReason error
	closedMu    sync.RWMutex

	logger logger.Logger

	outbound chan hubproto.Message

	lastActivity time.Time
	activityMu   sync.RWMutex

	keepAliveInterval time.Duration
	clientTimeout     time.Duration
}

// NewProtocolConnection starts the read and write pumps of an already
// handshaken conn. Invocations read from the peer are run by invoker.
func NewProtocolConnection(
	id string,
	connType string,
	conn hubproto.Conn,
	invoker Invoker,
	logger logger.Logger,
	keepAliveInterval time.Duration,
) *ProtocolConnection {
	ctx, cancel := context.WithCancel(context.Background())

	pc := &ProtocolConnection{
		id:                id,
		connType:          connType,
		conn:              conn,
		invoker:           invoker,
		ctx:               ctx,
		cancel:            cancel,
		logger:            logger.WithField("connection_id", id),
		outbound:          make(chan hubproto.Message, 256),
		lastActivity:      time.Now(),
		keepAliveInterval: keepAliveInterval,
		clientTimeout:     2 * keepAliveInterval,
	}

	go pc.writePump()
	go pc.readPump()

	return pc
}

func (c *ProtocolConnection) ID() string {
	return c.id
}

func (c *ProtocolConnection) Type() string {
	return c.connType
}

// Send queues an invocation of message.Target on the peer
func (c *ProtocolConnection) Send(ctx context.Context, message *Message) error {
	inv, err := message.ToInvocation()
	if err != nil {
		return err
	}
	return c.enqueue(ctx, inv)
}

func (c *ProtocolConnection) enqueue(ctx context.Context, msg hubproto.Message) error {
	if c.IsClosed() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	select {
	case c.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("send timeout")
	}
}

// Close ends the connection, telling the peer it closed cleanly.
func (c *ProtocolConnection) Close() error {
	return c.Abort(nil)
}

// Abort ends the connection and reports reason to the peer.
func (c *ProtocolConnection) Abort(reason error) error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.closeReason = reason
	c.cancel()

	c.logger.Infof("%s connection closed", c.connType)
	return nil
}

func (c *ProtocolConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *ProtocolConnection) Context() context.Context {
	return c.ctx
}

// writePump owns every write to the peer
func (c *ProtocolConnection) writePump() {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outbound:
			if err := c.conn.WriteMessage(msg); err != nil {
				c.logger.Errorf("Failed to write message: %v", err)
				c.Close()
				return
			}

		case <-ticker.C:
			if c.idle() > c.clientTimeout {
				c.logger.Warn("Client timeout elapsed without receiving a message, closing connection")
				c.Abort(fmt.Errorf("client timeout"))
				continue
			}
			if err := c.conn.WriteMessage(&hubproto.Ping{}); err != nil {
				c.logger.Errorf("Failed to send ping: %v", err)
				c.Close()
				return
			}

		case <-c.ctx.Done():
			c.closedMu.RLock()
			reason := c.closeReason
			c.closedMu.RUnlock()

			closeMsg := &hubproto.Close{}
			if reason != nil {
				closeMsg.Error = reason.Error()
			}
			if err := c.conn.WriteMessage(closeMsg); err != nil {
				c.logger.Debugf("Failed to send close message: %v", err)
			}
			return
		}
	}
}

// readPump runs invocations from the peer in arrival order
func (c *ProtocolConnection) readPump() {
	defer c.Close()

	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			if !c.IsClosed() {
				c.logger.Debugf("Read failed: %v", err)
			}
			return
		}

		c.updateActivity()

		switch m := msg.(type) {
		case *hubproto.Invocation:
			if completion := c.invoker.Invoke(c.ctx, c, m); completion != nil {
				if err := c.enqueue(c.ctx, completion); err != nil {
					c.logger.Warnf("Failed to queue completion for %s: %v", m.InvocationID, err)
				}
			}

		case *hubproto.Ping, *hubproto.CancelInvocation:

		case *hubproto.Close:
			c.logger.Info("Received close message from client")
			return

		default:
			c.logger.Debugf("Ignoring %T from client", msg)
		}
	}
}

func (c *ProtocolConnection) idle() time.Duration {
	c.activityMu.RLock()
	defer c.activityMu.RUnlock()
	return time.Since(c.lastActivity)
}

func (c *ProtocolConnection) updateActivity() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}
