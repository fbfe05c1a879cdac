// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across the daemon. The
// data plane never logs per packet; everything here is control-plane and
// service-level.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Config controls logger output.
type Config struct {
	Level      string `json:"level"`
	Output     io.Writer
	ReportTime bool `json:"report_time"`
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     os.Stderr,
		ReportTime: true,
	}
}

// Logger is a structured key-value logger.
type Logger struct {
	l *charmlog.Logger
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Level:           parseLevel(cfg.Level),
	})
	return &Logger{l: l}
}

func parseLevel(s string) charmlog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Debug logs at debug level with key-value pairs.
func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }

// Info logs at info level with key-value pairs.
func (lg *Logger) Info(msg string, kv ...any) { lg.l.Info(msg, kv...) }

// Warn logs at warn level with key-value pairs.
func (lg *Logger) Warn(msg string, kv ...any) { lg.l.Warn(msg, kv...) }

// Error logs at error level with key-value pairs.
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// With returns a child logger carrying the given key-value pairs.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...)}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// SetDefault replaces the process-wide logger.
func SetDefault(lg *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = lg
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// WithComponent returns the process-wide logger tagged with a component name.
func WithComponent(name string) *Logger {
	return Default().With("component", name)
}

// Debug logs to the process-wide logger.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }

// Info logs to the process-wide logger.
func Info(msg string, kv ...any) { Default().Info(msg, kv...) }

// Warn logs to the process-wide logger.
func Warn(msg string, kv ...any) { Default().Warn(msg, kv...) }

// Error logs to the process-wide logger.
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
