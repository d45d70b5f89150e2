package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matteso1/synapse/internal/app"
	"github.com/matteso1/synapse/internal/middleware"
	"github.com/matteso1/synapse/internal/relay"
)

// NewRouter builds the Gin engine for the relay's HTTP surface: the health
// endpoint, the metrics endpoint, and a catch-all that upgrades WebSocket
// requests into relay connections and answers everything else with a banner.
func NewRouter(cfg *app.Config, registry *relay.Registry, handler *relay.Handler) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.GET("/health", healthHandler(registry))

	if cfg.Monitoring.Prometheus.Enabled {
		r.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Every other path is either a relay connection (the first path segment
	// names the room) or a plain-text banner.
	r.NoRoute(func(c *gin.Context) {
		if isWebSocketUpgrade(c) {
			handler.Serve(c.Writer, c.Request)
			return
		}
		bannerHandler(c)
	})

	return r
}
