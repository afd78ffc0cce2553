package supervisor

import (
	"net/http"
	"time"

	"github.com/danmuck/dgpool/internal/observability"
	"github.com/gin-gonic/gin"
)

// adminRouter exposes read-only pool state over HTTP.
func (s *Supervisor) adminRouter() *gin.Engine {
	r := observability.NewRouter("supervisor", s.log)

	r.GET("/health", func(c *gin.Context) {
		running := 0
		for _, st := range s.Workers() {
			if st.Running {
				running++
			}
		}
		status := "ok"
		if running < len(s.procs) {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"uptime":    time.Since(s.started).String(),
			"workers":   len(s.procs),
			"running":   running,
			"base_port": s.cfg.BasePort,
		})
	})

	r.GET("/workers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"workers": s.Workers()})
	})
	return r
}
