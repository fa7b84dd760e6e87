package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure("info", FormatText)
	SetOutput(&buf)
	t.Cleanup(func() {
		Configure("info", FormatText)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetVerbose(t *testing.T) {
	buf := captureOutput(t)

	SetVerbose(false)
	Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetVerbose(true)
	Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigure_JSON(t *testing.T) {
	buf := captureOutput(t)

	Configure("warn", FormatJSON)
	Info("dropped")
	Warn("kept", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestCaptureOutput_RestoresSettings(t *testing.T) {
	t.Run("reconfigure", func(t *testing.T) {
		captureOutput(t)
		Configure("error", FormatJSON)
	})

	buf := captureOutput(t)
	Info("after", "k", "v")
	assert.Contains(t, buf.String(), "msg=after k=v")
	assert.Equal(t, slog.LevelInfo, currentLevel())
}

func TestConfigure_ConcurrentWithLogging(t *testing.T) {
	captureOutput(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				Info("tick", "n", j)
				Debug("tock", "n", j)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		SetVerbose(i%2 == 0)
		Configure("", FormatText)
	}
	wg.Wait()
	assert.NotNil(t, Default())
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithComponent(ctx, "relay")
	ctx = WithRemoteAddr(ctx, "10.0.0.1:1234")
	InfoContext(ctx, "opened")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-1")
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "remote_addr=10.0.0.1:1234")
	assert.Equal(t, "sess-1", SessionID(ctx))
	assert.Empty(t, SessionID(context.Background()))
}

func TestRedactSensitiveData(t *testing.T) {
	googleKey := "AIza" + strings.Repeat("x", 35)

	tests := []struct {
		name   string
		input  string
		absent string
		want   string
	}{
		{name: "google key", input: "key " + googleKey, absent: googleKey, want: "AIza...[REDACTED]"},
		{name: "bearer", input: "Authorization: Bearer abc123", absent: "abc123", want: "Bearer [REDACTED]"},
		{name: "query", input: "wss://host/ws?key=secret&x=1", absent: "secret", want: "?key=[REDACTED]&x=1"},
		{name: "clean", input: "nothing to hide", want: "nothing to hide"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSensitiveData(tt.input)
			if tt.absent != "" {
				assert.NotContains(t, got, tt.absent)
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestUpstreamError_Redacts(t *testing.T) {
	buf := captureOutput(t)

	key := "AIza" + strings.Repeat("k", 35)
	UpstreamError(context.Background(), "gemini", errors.New("dial wss://x?key="+key+" failed"))

	out := buf.String()
	assert.Contains(t, out, "upstream failure")
	assert.NotContains(t, out, key)
}

func currentLevel() slog.Level {
	configMu.Lock()
	defer configMu.Unlock()
	return logLevel
}
