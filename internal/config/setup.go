package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks through the main settings on in/out, validates them
// and saves the file. An empty answer keeps the current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{r: bufio.NewReader(in), w: out}

	fmt.Fprintln(out, "liqi setup")
	fmt.Fprintln(out)

	for {
		p.section("Schema")
		cfg.Schema.DescriptorSet = p.String("Descriptor set (FileDescriptorSet)", cfg.Schema.DescriptorSet)
		cfg.Schema.ServiceIndex = p.String("Service index (JSON)", cfg.Schema.ServiceIndex)
		cfg.Schema.Namespace = p.String("Type namespace", cfg.Schema.Namespace)

		p.section("Relay")
		cfg.Capture.Enabled = p.Bool("Accept relayed frames over TCP", cfg.Capture.Enabled)
		if cfg.Capture.Enabled {
			cfg.Capture.ListenAddr = p.String("Listen address", cfg.Capture.ListenAddr)
			cfg.Capture.PendingMaxAgeSec = p.Int("Drop unanswered requests after (seconds, 0 = never)", cfg.Capture.PendingMaxAgeSec)
		}

		p.section("Archive")
		cfg.Archive.Enabled = p.Bool("Archive decoded messages", cfg.Archive.Enabled)
		if cfg.Archive.Enabled {
			cfg.Archive.Path = p.String("Database path", cfg.Archive.Path)
			cfg.Archive.RetentionDays = p.Int("Retention (days)", cfg.Archive.RetentionDays)
		}

		p.section("Inspection API")
		cfg.API.Enabled = p.Bool("Enable inspection API", cfg.API.Enabled)
		if cfg.API.Enabled {
			cfg.API.Port = p.Int("API port", cfg.API.Port)
		}

		p.section("MQTT Telemetry")
		cfg.MQTT.Enabled = p.Bool("Enable MQTT telemetry", cfg.MQTT.Enabled)
		if cfg.MQTT.Enabled {
			cfg.MQTT.BrokerURL = p.String("Broker host", cfg.MQTT.BrokerURL)
			cfg.MQTT.Port = p.Int("Broker port", cfg.MQTT.Port)
			cfg.MQTT.TopicPrefix = p.String("Topic prefix", cfg.MQTT.TopicPrefix)
		}

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if p.eof || !p.Bool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

type prompter struct {
	r   *bufio.Reader
	w   io.Writer
	eof bool
}

func (p *prompter) section(title string) {
	fmt.Fprintf(p.w, "\n-- %s --\n", title)
}

func (p *prompter) read() string {
	input, err := p.r.ReadString('\n')
	if err != nil {
		p.eof = true
	}
	return strings.TrimSpace(input)
}

func (p *prompter) String(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.w, "  %s: ", prompt)
	}

	if input := p.read(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.w, "  %s [%d]: ", prompt, defaultVal)

	input := p.read()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.w, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.read())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
