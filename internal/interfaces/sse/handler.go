package sse

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// ServerSentEventHandler serves monitor streams: every broadcast the hub fans
// out is mirrored to SSE clients as an event named after its target.
type ServerSentEventHandler struct {
	hub               *hub.Hub
	logger            logger.Logger
	validator         *hub.MessageValidator
	keepAliveInterval time.Duration
}

type messageRequest struct {
	Target    string `json:"target" binding:"required"`
	Arguments []any  `json:"arguments"`
	// Type limits a broadcast to one connection type, "sse" or "websocket".
	Type string `json:"type"`
}

func NewServerSentEventHandler(hubInstance *hub.Hub, logger logger.Logger, keepAliveInterval time.Duration) *ServerSentEventHandler {
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}
	return &ServerSentEventHandler{
		hub:               hubInstance,
		logger:            logger.WithField("handler", "sse"),
		validator:         hub.NewMessageValidator(),
		keepAliveInterval: keepAliveInterval,
	}
}

// SSEHeadersMiddleware disables response buffering for event streams
func SSEHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", sse.ContentType)
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Next()
	}
}

// Connect handles SSE connection requests
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	h.logger.Info("New SSE connection request")

	if !h.hub.IsRunning() {
		h.logger.Error("Hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	w := c.Writer
	conn := hub.NewSSEConnection(c.Request.Context(), uuid.NewString(), w, c.Request, h.logger, h.keepAliveInterval)

	if err := h.hub.RegisterConnection(conn); err != nil {
		h.logger.Errorf("Failed to register connection: %v", err)
		_ = conn.Close()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register connection",
		})
		return
	}

	h.logger.Infof("SSE connection %s connected and registered", conn.ID())
	if err := conn.Send(c.Request.Context(), hub.Invocation("connected", conn.ID(), time.Now().Format(time.RFC3339))); err != nil {
		h.logger.Warnf("Failed to greet SSE connection %s: %v", conn.ID(), err)
		return
	}

	// The connection context derives from the request, so it also ends when
	// the client goes away.
	<-conn.Context().Done()
	h.logger.Infof("SSE connection %s disconnected", conn.ID())
}

// SendMessage invokes a target on a specific client (for testing/admin purposes)
func (h *ServerSentEventHandler) SendMessage(c *gin.Context) {
	clientID := c.Param("clientId")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Client ID is required",
		})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message format",
		})
		return
	}

	message := hub.Invocation(req.Target, req.Arguments...)
	if err := h.validator.Validate(message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	if err := h.hub.SendToConnection(c.Request.Context(), clientID, message); err != nil {
		h.logger.Errorf("Failed to send message to client %s: %v", clientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to send message",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "sent",
		"client_id":  clientID,
		"message_id": message.ID,
	})
}

// BroadcastMessage invokes a target on all connected clients, or only on
// those of the requested type
func (h *ServerSentEventHandler) BroadcastMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message format",
		})
		return
	}

	message := hub.Invocation(req.Target, req.Arguments...)
	if err := h.validator.Validate(message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	var err error
	recipients := h.hub.ConnectionCount()
	if req.Type != "" {
		recipients = len(h.hub.GetConnectionsByType(req.Type))
		err = h.hub.BroadcastToType(c.Request.Context(), req.Type, message)
	} else {
		err = h.hub.Broadcast(c.Request.Context(), message)
	}
	if err != nil {
		h.logger.Errorf("Failed to broadcast message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to broadcast message",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "broadcasted",
		"message_id":  message.ID,
		"connections": recipients,
	})
}

// GetConnections returns information about connected connections
func (h *ServerSentEventHandler) GetConnections(c *gin.Context) {
	connections := h.hub.GetConnections()
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
