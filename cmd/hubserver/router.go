package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-hub-tunnel/internal/infrastructure/config"
	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/logger"
	"go-hub-tunnel/internal/interfaces/rest/v1/handler"
	"go-hub-tunnel/internal/interfaces/sse"
	"go-hub-tunnel/internal/interfaces/websocket"
)

func InitRouter(hubInstance *hub.Hub, log logger.Logger, reg *prometheus.Registry, cfg config.Server) http.Handler {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	rootGroup.GET("/debug", func(c *gin.Context) {
		log.Info("Debug endpoint hit!")
		c.JSON(http.StatusOK, gin.H{"debug": "working"})
	})

	// Health check endpoint
	rootGroup.GET("/hub/status", func(c *gin.Context) {
		isRunning := hubInstance.IsRunning()
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"hub_running": isRunning,
			"connections": hubInstance.ConnectionCount(),
		})
	})

	rootGroup.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Chat API endpoints
	chatHandler := handler.NewChatHandler(hubInstance, log)
	apiGroup := rootGroup.Group("/api")
	{
		apiGroup.POST("/messages", chatHandler.SendMessage)
	}

	sse.InitSSERouter(log, hubInstance, rootGroup, cfg.KeepAliveInterval)
	websocket.InitWebSocketRouter(log, hubInstance, rootGroup, websocket.Options{
		AccessToken:       cfg.AccessToken,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
	})

	return router
}
