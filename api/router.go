// Package api exposes the hazard stream and report endpoints over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter returns the gin engine serving the API.  stream handles the
// WebSocket endpoint.
func NewRouter(h *Handler, stream http.Handler, log zerolog.Logger) *gin.Engine {

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// the browser client is served from a different origin
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", h.health)

	if stream != nil {
		r.GET("/ws", gin.WrapH(stream))
	}

	h.Register(r)

	return r
}

// requestLogger logs each request once it completes
func requestLogger(log zerolog.Logger) gin.HandlerFunc {

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}

		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
