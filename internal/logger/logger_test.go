package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "json")
	l.Debug("job failed", slog.String("queue", "SendMessages"), slog.Int("attempt", 2))

	out := buf.String()
	if !strings.Contains(out, `"queue":"SendMessages"`) || !strings.Contains(out, `"attempt":2`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	custom := New(&buf, "info", "text").With("tenant_id", "t1")

	ctx := WithContext(context.Background(), custom)
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "tenant_id=t1") {
		t.Fatalf("context logger lost attributes: %s", buf.String())
	}
	if FromContext(context.Background()) != L {
		t.Fatal("expected global logger without context value")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("expected default logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if OrDefault(l) != l {
		t.Fatal("expected same logger")
	}
}
