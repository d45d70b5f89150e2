package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS applies the relay's permissive cross-origin policy. The relay carries
// no credentials or cookies, so a wildcard origin is safe and matches the
// deployment contract of the editor clients.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Upgrade, Connection")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
