package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

type ChatHandler struct {
	hub       *hub.Hub
	logger    logger.Logger
	validator *hub.MessageValidator
}

type ChatMessageRequest struct {
	Username  string `json:"username" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Timestamp string `json:"timestamp"`
}

type ChatMessageResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChatHandler(hubInstance *hub.Hub, logger logger.Logger) *ChatHandler {
	return &ChatHandler{
		hub:       hubInstance,
		logger:    logger.WithField("handler", "chat"),
		validator: hub.NewMessageValidator(),
	}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request format: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message format",
		})
		return
	}

	// Parse timestamp or use current time
	var timestamp time.Time
	if req.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			timestamp = t
		} else {
			timestamp = time.Now()
		}
	} else {
		timestamp = time.Now()
	}

	messageID := uuid.NewString()
	chatMessage := ChatMessageResponse{
		ID:        messageID,
		Username:  req.Username,
		Message:   req.Message,
		Timestamp: timestamp,
	}

	// Hub clients receive ReceiveMessage(user, message, timestamp)
	hubMessage := hub.NewMessageBuilder().
		WithID(messageID).
		WithTarget(hub.TargetReceiveMessage).
		WithArguments(chatMessage.Username, chatMessage.Message, chatMessage.Timestamp).
		Build()

	if err := h.validator.Validate(hubMessage); err != nil {
		h.logger.Errorf("Invalid chat message: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message format",
		})
		return
	}

	// Broadcast to all connected clients
	if err := h.hub.Broadcast(c.Request.Context(), hubMessage); err != nil {
		h.logger.Errorf("Failed to broadcast message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to send message",
		})
		return
	}

	h.logger.Infof("Chat message sent by %s to %d connections", req.Username, h.hub.ConnectionCount())

	c.JSON(http.StatusOK, gin.H{
		"status":      "sent",
		"message_id":  messageID,
		"connections": h.hub.ConnectionCount(),
	})
}
