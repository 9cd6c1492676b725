package sse

import (
	"time"

	"github.com/gin-gonic/gin"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

func InitSSERouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup, keepAliveInterval time.Duration) {
	sseHandler := NewServerSentEventHandler(hubInstance, logger, keepAliveInterval)

	// SSE monitor endpoint
	sseGroup := rg.Group("/sse")
	sseGroup.GET("", SSEHeadersMiddleware(), sseHandler.Connect)

	// Broadcasting API endpoints
	apiGroup := rg.Group("/api/v1/sse")
	apiGroup.GET("/connections", sseHandler.GetConnections)
	apiGroup.POST("/broadcast", sseHandler.BroadcastMessage)
	apiGroup.POST("/send/:clientId", sseHandler.SendMessage)
}
