// Package util holds the logging setup and host introspection shared by the
// liqi binaries.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "liqi_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string
	MaxBackups int
	Console    bool
	// JSON switches the console output from the pretty writer to raw JSON
	// lines, which is what `liqi decode` uses when piped.
	JSON bool
}

// InitLogger sets the zerolog global logger. An empty Directory disables the
// log file.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	var logFilePath string

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}
		logFilePath = filepath.Join(cfg.Directory,
			fmt.Sprintf("%s%s.log", logFilePrefix, time.Now().Format("2006-01-02")))

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		}
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "liqi").
		Logger()

	log.Debug().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if logFilePath != "" && cfg.MaxBackups > 0 {
		go pruneLogs(cfg.Directory, cfg.MaxBackups)
	}

	return nil
}

// pruneLogs keeps the newest maxBackups daily log files. File names carry
// the date, so lexical order is age order.
func pruneLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logFilePrefix) && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}
	if len(names) <= maxBackups {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("failed to remove old log file")
			continue
		}
		log.Debug().Str("file", path).Msg("removed old log file")
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
