// Package logger provides structured logging with automatic credential redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Relay and session lifecycle logging
//   - Automatic API key and bearer token redaction
//   - Contextual logging (session id, component, remote address)
//   - Level-based verbosity control
//
// All exported functions use the global logger returned by Default, which can
// be reconfigured at any time for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

var (
	// defaultLogger starts at slog.LevelInfo unless LOG_LEVEL says otherwise.
	defaultLogger atomic.Pointer[slog.Logger]

	logOutput = &swapWriter{w: os.Stderr}

	// configMu guards logFormat and logLevel.
	configMu  sync.Mutex
	logFormat = FormatText
	logLevel  = slog.LevelInfo
)

// Default returns the global structured logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// swapWriter lets SetOutput redirect output while other goroutines log.
type swapWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *swapWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *swapWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func init() {
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		logLevel = ParseLevel(envLevel)
	}
	rebuildLocked()
}

// ParseLevel converts a level name to an slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// rebuildLocked swaps in a logger for the current settings. configMu must be
// held, except during init.
func rebuildLocked() {
	opts := &slog.HandlerOptions{Level: logLevel}
	var base slog.Handler
	if logFormat == FormatJSON {
		base = slog.NewJSONHandler(logOutput, opts)
	} else {
		base = slog.NewTextHandler(logOutput, opts)
	}
	defaultLogger.Store(slog.New(NewContextHandler(base)))
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	configMu.Lock()
	defer configMu.Unlock()
	logLevel = level
	rebuildLocked()
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetOutput redirects log output, mainly for tests. A nil writer restores
// stderr. Safe to call while other goroutines are logging.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logOutput.set(w)
}

// Configure applies a level name and a format ("json" or "text").
// Empty values keep the current setting.
func Configure(level, format string) {
	configMu.Lock()
	defer configMu.Unlock()
	if level != "" {
		logLevel = ParseLevel(level)
	}
	if format != "" {
		logFormat = strings.ToLower(format)
	}
	rebuildLocked()
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// InfoContext logs an informational message with context fields attached.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// DebugContext logs a debug message with context fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// WarnContext logs a warning message with context fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// ErrorContext logs an error message with context fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

// UpstreamError logs a failure reported by the AI backend. The error text is
// redacted before it reaches the handler because upstream diagnostics may
// echo the request URL or headers.
func UpstreamError(ctx context.Context, provider string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"error", RedactSensitiveData(errString(err)),
	)
	allAttrs = append(allAttrs, attrs...)
	ErrorContext(ctx, "upstream failure", allAttrs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),   // Google API keys
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),     // OpenAI-style keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_-]+`), // Bearer tokens
		regexp.MustCompile(`([?&]key=)[^&\s"]+`),      // key query parameters
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// Matched keys keep their first four characters; bearer tokens and key query
// parameters are replaced entirely.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer"):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "?key=") || strings.HasPrefix(match, "&key="):
				return match[:5] + "[REDACTED]"
			case len(match) > 8:
				return match[:4] + "...[REDACTED]"
			default:
				return "[REDACTED]"
			}
		})
	}

	return result
}
