package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/liqi/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "liqi",
		"version": s.deps.Version,
	})
}

// handleInfo describes the host and the loaded schema.
func (s *Server) handleInfo(c *gin.Context) {
	info := gin.H{
		"version":        s.deps.Version,
		"host":           util.GetHostInfo(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"archive":        s.deps.Archive != nil,
		"capture":        s.deps.Sessions != nil,
	}
	if r := s.deps.Resolver; r != nil {
		info["schema"] = gin.H{
			"namespace": r.Namespace(),
			"messages":  r.Catalog().NumMessages(),
			"methods":   r.Index().NumMethods(),
		}
	}
	c.JSON(http.StatusOK, info)
}
