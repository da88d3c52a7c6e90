package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/liqi/internal/db"
	"github.com/energizer-project/liqi/internal/health"
	"github.com/energizer-project/liqi/internal/util"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// parseLimit reads ?limit=, clamped to [1, maxListLimit].
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func (s *Server) requireArchive(c *gin.Context) bool {
	if s.deps.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message archive is disabled"})
		return false
	}
	return true
}

// handleMessages lists archived messages, newest first. ?method= filters by
// full method name.
func (s *Server) handleMessages(c *gin.Context) {
	if !s.requireArchive(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	var (
		records []db.MessageRecord
		err     error
	)
	if method := c.Query("method"); method != "" {
		records, err = s.deps.Archive.ByMethod(c.Request.Context(), method, limit)
	} else {
		records, err = s.deps.Archive.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []db.MessageRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": records, "count": len(records)})
}

func (s *Server) handleFailures(c *gin.Context) {
	if !s.requireArchive(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	records, err := s.deps.Archive.Failures(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []db.FailureRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"failures": records, "count": len(records)})
}

// handleStats combines archive counts, live session totals and process
// resource usage.
func (s *Server) handleStats(c *gin.Context) {
	out := gin.H{"resources": util.SampleUsage(s.deps.DataDir)}

	if s.deps.Archive != nil {
		stats, err := s.deps.Archive.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out["archive"] = stats
	}

	if s.deps.Sessions != nil {
		infos := s.deps.Sessions.Snapshot()
		var decoded, failed uint64
		pending := 0
		for _, info := range infos {
			decoded += info.Decoded
			failed += info.Failed
			pending += info.Pending
		}
		out["live"] = gin.H{
			"sessions": len(infos),
			"decoded":  decoded,
			"failed":   failed,
			"pending":  pending,
		}
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture is disabled"})
		return
	}
	sessions := s.deps.Sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// handleHealth answers 503 while any check is critical.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks are disabled"})
		return
	}
	overall := s.deps.Health.Overall()
	status := http.StatusOK
	if overall == health.LevelCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": overall, "checks": s.deps.Health.Status()})
}
