package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const redacted = "<redacted>"

// handleGetConfig returns the running configuration with key material
// paths hidden.
func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.deps.Config

	mqtt := cfg.GetMQTT()
	if mqtt.CertFile != "" {
		mqtt.CertFile = redacted
	}
	if mqtt.KeyFile != "" {
		mqtt.KeyFile = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"schema":  cfg.GetSchema(),
		"capture": cfg.GetCapture(),
		"archive": cfg.GetArchive(),
		"api":     cfg.GetAPI(),
		"mqtt":    mqtt,
		"logging": cfg.GetLogging(),
	})
}
