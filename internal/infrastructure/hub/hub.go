package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/infrastructure/metrics"
)

// Hub tracks connected clients, fans out broadcasts and owns the table of
// methods clients may invoke.
type Hub struct {
	connections   map[string]Connection
	connectionsMu sync.RWMutex

	methods   map[string]MethodFunc
	methodsMu sync.RWMutex

	running   bool
	runningMu sync.RWMutex

	logger  logger.Logger
	metrics *metrics.Hub

	cleanupInterval time.Duration

	// Channels for internal communication
	register   chan Connection
	unregister chan string
	broadcast  chan *Message

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Hub)

func WithMetrics(m *metrics.Hub) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.cleanupInterval = d
		}
	}
}

// New creates a new Hub instance
func New(logger logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		connections:     make(map[string]Connection),
		methods:         make(map[string]MethodFunc),
		logger:          logger.WithField("component", "hub"),
		cleanupInterval: 30 * time.Second,
		register:        make(chan Connection, 100),
		unregister:      make(chan string, 100),
		broadcast:       make(chan *Message, 1000),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start starts the hub and begins processing connection events
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub is already running")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	go h.run(h.ctx)

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop gracefully stops the hub and disconnects all connections
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()

	h.connectionsMu.Lock()
	for _, conn := range h.connections {
		if err := conn.Close(); err != nil {
			h.logger.Errorf("Failed to close connection %s: %v", conn.ID(), err)
		}
		h.metrics.Disconnected(conn.Type())
	}
	h.connections = make(map[string]Connection)
	h.connectionsMu.Unlock()

	h.running = false
	h.logger.Info("Hub stopped successfully")
	return nil
}

// IsRunning returns true if the hub is currently running
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// RegisterConnection adds a new connection to the hub
func (h *Hub) RegisterConnection(conn Connection) error {
	ctx, err := h.runContext()
	if err != nil {
		return err
	}

	select {
	case h.register <- conn:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub is shutting down")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout registering connection")
	}
}

// UnregisterConnection removes a connection from the hub
func (h *Hub) UnregisterConnection(connID string) error {
	ctx, err := h.runContext()
	if err != nil {
		return err
	}

	select {
	case h.unregister <- connID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub is shutting down")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout unregistering connection")
	}
}

func (h *Hub) runContext() (context.Context, error) {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()

	if !h.running {
		return nil, fmt.Errorf("hub is not running")
	}
	return h.ctx, nil
}

// GetConnection returns a connection by ID
func (h *Hub) GetConnection(connID string) (Connection, bool) {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	conn, exists := h.connections[connID]
	return conn, exists
}

// GetConnections returns all active connections
func (h *Hub) GetConnections() []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	connections := make([]Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	return connections
}

// GetConnectionsByType returns connections of a specific type
func (h *Hub) GetConnectionsByType(connType string) []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	var connections []Connection
	for _, conn := range h.connections {
		if conn.Type() == connType {
			connections = append(connections, conn)
		}
	}
	return connections
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	return len(h.connections)
}

// Broadcast sends a message to all connections
func (h *Hub) Broadcast(ctx context.Context, message *Message) error {
	runCtx, err := h.runContext()
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled")
	case <-runCtx.Done():
		return fmt.Errorf("hub is shutting down")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout broadcasting message")
	}
}

// BroadcastToType sends a message to all connections of a specific type
func (h *Hub) BroadcastToType(ctx context.Context, connType string, message *Message) error {
	if _, err := h.runContext(); err != nil {
		return err
	}
	connections := h.GetConnectionsByType(connType)

	// Sends outlive the caller, typically an HTTP request.
	sendCtx := context.WithoutCancel(ctx)
	for _, conn := range connections {
		go func(c Connection) {
			ctx, cancel := context.WithTimeout(sendCtx, 10*time.Second)
			defer cancel()

			if err := c.Send(ctx, message); err != nil {
				h.logger.Errorf("Failed to send message to connection %s: %v", c.ID(), err)
				// Auto-unregister failed connections
				h.UnregisterConnection(c.ID())
			}
		}(conn)
	}

	h.logger.Infof("Broadcasted %s to %d connections of type %s", message.Target, len(connections), connType)
	return nil
}

// SendToConnection sends a message to a specific connection
func (h *Hub) SendToConnection(ctx context.Context, connID string, message *Message) error {
	conn, exists := h.GetConnection(connID)
	if !exists {
		return fmt.Errorf("connection %s not found", connID)
	}

	if err := conn.Send(ctx, message); err != nil {
		h.logger.Errorf("Failed to send message to connection %s: %v", connID, err)
		// Auto-unregister failed connections
		h.UnregisterConnection(connID)
		return err
	}

	return nil
}

// run is the main hub loop that processes connection events
func (h *Hub) run(ctx context.Context) {
	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case conn := <-h.register:
			h.handleRegister(conn)

		case connID := <-h.unregister:
			h.handleUnregister(connID)

		case message := <-h.broadcast:
			h.handleBroadcast(message)

		case <-ticker.C:
			h.cleanupClosedConnections()

		case <-ctx.Done():
			h.logger.Info("Hub run loop stopped")
			return
		}
	}
}

// handleRegister processes connection registration
func (h *Hub) handleRegister(conn Connection) {
	h.connectionsMu.Lock()
	h.connections[conn.ID()] = conn
	h.connectionsMu.Unlock()

	h.metrics.Connected(conn.Type())
	h.logger.Infof("Connection %s registered (type: %s)", conn.ID(), conn.Type())

	// Monitor connection context for disconnection
	go func() {
		<-conn.Context().Done()
		h.UnregisterConnection(conn.ID())
	}()
}

// handleUnregister processes connection unregistration
func (h *Hub) handleUnregister(connID string) {
	h.connectionsMu.Lock()
	conn, exists := h.connections[connID]
	if exists {
		delete(h.connections, connID)
		conn.Close()
	}
	h.connectionsMu.Unlock()

	if exists {
		h.metrics.Disconnected(conn.Type())
		h.logger.Infof("Connection %s unregistered", connID)
	}
}

// handleBroadcast processes broadcast messages
func (h *Hub) handleBroadcast(message *Message) {
	connections := h.GetConnections()

	for _, conn := range connections {
		go func(c Connection) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.Send(ctx, message); err != nil {
				h.logger.Errorf("Failed to send broadcast to connection %s: %v", c.ID(), err)
				h.UnregisterConnection(c.ID())
			}
		}(conn)
	}

	h.logger.Infof("Broadcasted %s (%s) to %d connections", message.Target, message.ID, len(connections))
}

// cleanupClosedConnections removes connections that have been closed
func (h *Hub) cleanupClosedConnections() {
	h.connectionsMu.Lock()
	defer h.connectionsMu.Unlock()

	for id, conn := range h.connections {
		if conn.IsClosed() {
			delete(h.connections, id)
			h.metrics.Disconnected(conn.Type())
			h.logger.Infof("Cleaned up closed connection %s", id)
		}
	}
}

func methodKey(name string) string { return strings.ToLower(name) }
