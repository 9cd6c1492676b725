package websocket

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// Options tune the hub endpoint. An empty AccessToken disables the check.
type Options struct {
	AccessToken       string
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
}

// WebSocketHandler accepts hub protocol clients over websockets
type WebSocketHandler struct {
	hub      *hub.Hub
	logger   logger.Logger
	upgrader websocket.Upgrader
	opts     Options
}

// NewWebSocketHandler creates a new WebSocket handler instance
func NewWebSocketHandler(hubInstance *hub.Hub, logger logger.Logger, opts Options) *WebSocketHandler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 15 * time.Second
	}
	return &WebSocketHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "websocket"),
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from any origin for development
				// In production, you should implement proper origin checking
				return true
			},
		},
	}
}

// Connect upgrades the request, completes the hub handshake and serves the
// connection until either side closes it.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	h.logger.Info("New WebSocket connection request")

	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	if !h.authorized(c.Request) {
		h.logger.Warn("Rejected WebSocket connection with a missing or invalid access token")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized",
		})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	conn := hubproto.NewWebSocketConn(ws)
	if err := hub.Handshake(conn, h.opts.HandshakeTimeout); err != nil {
		h.logger.Warnf("Handshake failed: %v", err)
		conn.Close()
		return
	}

	pc := hub.NewProtocolConnection(uuid.NewString(), "websocket", conn, h.hub, h.logger, h.opts.KeepAliveInterval)

	if err := h.hub.RegisterConnection(pc); err != nil {
		h.logger.Errorf("Failed to register WebSocket connection: %v", err)
		pc.Close()
		return
	}

	h.logger.Infof("WebSocket connection %s connected and registered", pc.ID())

	// Keep the connection alive until client disconnects
	<-pc.Context().Done()
	h.logger.Infof("WebSocket connection %s disconnected", pc.ID())
}

func (h *WebSocketHandler) authorized(r *http.Request) bool {
	if h.opts.AccessToken == "" {
		return true
	}
	token := r.URL.Query().Get("access_token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AccessToken)) == 1
}

// GetConnections returns information about WebSocket connections
func (h *WebSocketHandler) GetConnections(c *gin.Context) {
	connections := h.hub.GetConnectionsByType("websocket")
	connectionInfo := make([]gin.H, len(connections))

	for i, conn := range connections {
		connectionInfo[i] = gin.H{
			"id":     conn.ID(),
			"type":   conn.Type(),
			"closed": conn.IsClosed(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_connections": len(connections),
		"connections":       connectionInfo,
		"hub_running":       h.hub.IsRunning(),
	})
}
