// Package observability provides structured logging, Prometheus metrics, and
// OpenTelemetry trace helpers for the orchestrator.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format selects the output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer

	// RedactPatterns are additional regex patterns for sensitive data
	// redaction on top of the built-in API key and token patterns.
	RedactPatterns []string
}

// Built-in redaction patterns cover the secrets most likely to leak through
// tool output during an assessment: API keys, bearer tokens, and anything
// that looks like a password assignment.
var defaultRedactPatterns = []string{
	`sk-ant-[A-Za-z0-9\-_]{8,}`,
	`sk-[A-Za-z0-9]{20,}`,
	`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}`,
	`(?i)(password|passwd|secret|token)\s*[=:]\s*\S+`,
}

// NewLogger builds a slog.Logger with level/format config and secret
// redaction applied to string attribute values.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(cfg.Level)

	patterns := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, p := range append(append([]string{}, defaultRedactPatterns...), cfg.RedactPatterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(a.Value.String(), patterns))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(s string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}
