package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricsPath = "/metrics"

// accessLog counts every admin request for role and logs it. Scrapes of
// /metrics are counted but not logged.
func accessLog(role string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		RecordHTTPRequest(role, c.Request.Method, route, code)
		if route == metricsPath && code == http.StatusOK {
			return
		}

		level := zerolog.DebugLevel
		switch {
		case code >= http.StatusInternalServerError:
			level = zerolog.ErrorLevel
		case code >= http.StatusBadRequest:
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("uri", c.Request.URL.RequestURI()).
			Int("status", code).
			Dur("took", time.Since(began)).
			Msg("admin.http")
	}
}

// NewRouter returns the base admin engine for one process role: panic
// recovery, access logging, and /metrics. Unknown routes answer JSON 404.
func NewRouter(role string, logger zerolog.Logger) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(role, logger))
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such route", "path": c.Request.URL.Path})
	})
	return r
}
