package websocket

import (
	"github.com/gin-gonic/gin"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// InitWebSocketRouter initializes the hub endpoint and its connection listing
func InitWebSocketRouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup, opts Options) {
	wsHandler := NewWebSocketHandler(hubInstance, logger, opts)

	hubGroup := rg.Group("/hub")
	hubGroup.GET("", wsHandler.Connect)

	apiGroup := rg.Group("/api/v1/ws")
	apiGroup.GET("/connections", wsHandler.GetConnections)
}
