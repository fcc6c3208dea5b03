// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package flightstore

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel is a severity name accepted in configuration.
type LogLevel string

const (
	// LogException is the most severe level, used for unrecoverable errors
	// that terminate request processing.
	LogException LogLevel = "EXCEPTION"
	// LogError indicates a recoverable error condition.
	LogError LogLevel = "ERROR"
	// LogWarn indicates a warning that may require attention.
	LogWarn LogLevel = "WARN"
	// LogInfo indicates a normal informational message.
	LogInfo LogLevel = "INFO"
	// LogDebug indicates a verbose diagnostic message.
	LogDebug LogLevel = "DEBUG"
	// LogTrace is the least severe level, used for fine-grained tracing.
	LogTrace LogLevel = "TRACE"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// ParseLogLevel maps a level name (case-insensitive) onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LogException, LogError:
		return slog.LevelError, nil
	case LogWarn, "WARNING":
		return slog.LevelWarn, nil
	case LogInfo, "":
		return slog.LevelInfo, nil
	case LogDebug:
		return slog.LevelDebug, nil
	case LogTrace:
		return LevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds a logger writing to w. format is "text" or "json"; JSON
// output names the time and level fields "ts" and "severity".
func NewLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "severity"
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue(string(LogTrace))
				}
			}
			return a
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
