package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type purgeRequest struct {
	// OlderThanHours overrides the configured retention when positive.
	OlderThanHours int `json:"older_than_hours"`
}

// handlePurge removes archived rows older than the retention window.
func (s *Server) handlePurge(c *gin.Context) {
	if !s.requireArchive(c) {
		return
	}

	var req purgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	window := time.Duration(req.OlderThanHours) * time.Hour
	if window <= 0 {
		days := s.deps.Config.GetArchive().RetentionDays
		if days < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "retention is disabled, pass older_than_hours"})
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	before := time.Now().Add(-window)
	removed, err := s.deps.Archive.Purge(c.Request.Context(), before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Int64("rows", removed).Time("before", before).Msg("API: archive purged")
	c.JSON(http.StatusOK, gin.H{"removed": removed, "before": before.UTC()})
}

type evictRequest struct {
	MaxAgeSeconds int `json:"max_age_seconds" binding:"required,min=1"`
}

// handleEvict drops unanswered requests from every live session.
func (s *Server) handleEvict(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture is disabled"})
		return
	}

	var req evictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evicted := s.deps.Sessions.EvictPending(time.Duration(req.MaxAgeSeconds) * time.Second)
	log.Info().Int("evicted", evicted).Msg("API: pending requests evicted")
	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}
