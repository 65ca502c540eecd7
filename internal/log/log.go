// Package applog wires the process-wide logger. Level and sink come from
// DEVHOST_LOG_LEVEL / DEVHOST_LOG_FILE; an optional Loki push URL can be
// supplied through configs/config.yaml for shipping the same lines to a
// local Grafana stack.
package applog

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu     sync.RWMutex
	logger = log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          "devhost",
	})
)

// Setup configures the global logger. If file is non-empty the log is
// written there in addition to stderr.
func Setup(level, file string) error {
	var w io.Writer = os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           parseLevel(level),
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          "devhost",
	})

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info", "":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

func get() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, keyvals ...any) { get().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { get().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { get().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { get().Error(msg, keyvals...) }
func Fatal(msg string, keyvals ...any) { get().Fatal(msg, keyvals...) }
