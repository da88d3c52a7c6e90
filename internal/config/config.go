// Package config handles configuration loading, validation, and persistence
// for the liqi decoder service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultAPIPort     = 5080
	DefaultCaptureAddr = "127.0.0.1:7701"
	DefaultMaxFrame    = 1 << 20
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Schema  SchemaConfig  `json:"schema"`
	Capture CaptureConfig `json:"capture"`
	Archive ArchiveConfig `json:"archive"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
}

// SchemaConfig points at the compiled descriptor set and the service index.
type SchemaConfig struct {
	DescriptorSet string `json:"descriptor_set"`
	ServiceIndex  string `json:"service_index"`
	Namespace     string `json:"namespace"`
}

// CaptureConfig controls the frame relay listener.
type CaptureConfig struct {
	Enabled          bool   `json:"enabled"`
	ListenAddr       string `json:"listen_addr"`
	ReadTimeoutSec   int    `json:"read_timeout_sec"`
	MaxFrameSize     int    `json:"max_frame_size"`
	PendingMaxAgeSec int    `json:"pending_max_age_sec"`
}

// ArchiveConfig controls the SQLite message archive.
type ArchiveConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// APIConfig holds the inspection API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schema: SchemaConfig{
			DescriptorSet: "res/liqi.desc",
			ServiceIndex:  "res/liqi.json",
			Namespace:     "lq",
		},
		Capture: CaptureConfig{
			Enabled:          true,
			ListenAddr:       DefaultCaptureAddr,
			ReadTimeoutSec:   300,
			MaxFrameSize:     DefaultMaxFrame,
			PendingMaxAgeSec: 600,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			Path:          "data/messages.db",
			RetentionDays: 14,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 50,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "liqi",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file. A missing file is created with
// the defaults.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so new default fields show up in the file.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetSchema returns a copy of the schema configuration.
func (c *Config) GetSchema() SchemaConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Schema
}

// GetCapture returns a copy of the capture configuration.
func (c *Config) GetCapture() CaptureConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture
}

// GetArchive returns a copy of the archive configuration.
func (c *Config) GetArchive() ArchiveConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Archive
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
