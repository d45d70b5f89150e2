package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/matteso1/synapse/internal/app"
	"github.com/matteso1/synapse/internal/relay"
)

func healthHandler(registry *relay.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   "synapse-relay",
			"version":   app.Version,
			"rooms":     registry.Len(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func bannerHandler(c *gin.Context) {
	c.String(http.StatusOK, "Synapse relay is running. Open a WebSocket connection to /<room> to collaborate.\n")
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return websocket.IsWebSocketUpgrade(c.Request)
}
