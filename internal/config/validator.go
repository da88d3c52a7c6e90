package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateSchema(cfg.GetSchema(), result)
	validateCapture(cfg.GetCapture(), result)
	validateArchive(cfg.GetArchive(), result)
	validateAPI(cfg.GetAPI(), result)
	validateMQTT(cfg.GetMQTT(), result)

	return result
}

func validateSchema(s SchemaConfig, result *ValidationResult) {
	if strings.TrimSpace(s.DescriptorSet) == "" {
		result.AddError("schema.descriptor_set", "descriptor set path is required")
	} else if _, err := os.Stat(s.DescriptorSet); os.IsNotExist(err) {
		result.AddError("schema.descriptor_set", fmt.Sprintf("file does not exist: %s", s.DescriptorSet))
	}

	if strings.TrimSpace(s.ServiceIndex) == "" {
		result.AddError("schema.service_index", "service index path is required")
	} else if _, err := os.Stat(s.ServiceIndex); os.IsNotExist(err) {
		result.AddError("schema.service_index", fmt.Sprintf("file does not exist: %s", s.ServiceIndex))
	}

	if strings.Contains(s.Namespace, " ") {
		result.AddError("schema.namespace", "namespace must not contain spaces")
	}
}

func validateCapture(c CaptureConfig, result *ValidationResult) {
	if !c.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		result.AddError("capture.listen_addr", fmt.Sprintf("invalid listen address %q: %v", c.ListenAddr, err))
	}
	if c.MaxFrameSize < 16 {
		result.AddError("capture.max_frame_size", "max frame size must be at least 16 bytes")
	}
	if c.ReadTimeoutSec < 0 {
		result.AddError("capture.read_timeout_sec", "read timeout cannot be negative")
	}
	if c.PendingMaxAgeSec == 0 {
		result.AddWarning("capture.pending_max_age_sec",
			"pending request eviction is disabled, unanswered requests are kept for the whole session")
	}
}

func validateArchive(a ArchiveConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	if strings.TrimSpace(a.Path) == "" {
		result.AddError("archive.path", "archive path is required when enabled")
	}
	if a.RetentionDays < 1 {
		result.AddWarning("archive.retention_days", "retention is disabled, the archive will grow without bound")
	}
}

func validateAPI(a APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
	}
}

func validateMQTT(m MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.ContainsAny(m.TopicPrefix, "#+") {
		result.AddError("mqtt.topic_prefix", "topic prefix must not contain wildcards")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
