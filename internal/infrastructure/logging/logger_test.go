package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/tsfeed/internal/infrastructure/config"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", "none", ""} {
		t.Run(output, func(t *testing.T) {
			logger := New(config.LoggingConfig{Level: "error", Format: "text", Output: output}, "1.0.0")
			if logger == nil || logger.Logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)
	logger.Component("collector").Info("sample skipped", "error", "sensor missing")

	entry := decodeEntry(t, &buf)
	tests := []struct {
		key  string
		want string
	}{
		{"msg", "sample skipped"},
		{"error", "sensor missing"},
		{"service", "tsfeed"},
		{"version", "test"},
		{"component", "collector"},
	}
	for _, tt := range tests {
		if entry[tt.key] != tt.want {
			t.Errorf("%s = %v, want %q", tt.key, entry[tt.key], tt.want)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name string
		args []any
		key  string
	}{
		{"api key", []any{"api_key", "abc123"}, "api_key"},
		{"upper case key", []any{"API_KEY", "abc123"}, "API_KEY"},
		{"mqtt password", []any{"password", "abc123"}, "password"},
		{"influx token", []any{"token", "abc123"}, "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)
			logger.Info("connecting", tt.args...)

			if strings.Contains(buf.String(), "abc123") {
				t.Errorf("secret leaked: %s", buf.String())
			}
			if got := decodeEntry(t, &buf)[tt.key]; got != redacted {
				t.Errorf("%s = %v, want %q", tt.key, got, redacted)
			}
		})
	}
}

func TestRedactSecrets_InGroupsAndChildren(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &buf)
	logger.With("token", "influx-secret").Info("mirror ready",
		slog.Group("store", "name", "sensors", "api_key", "abc123"),
	)

	out := buf.String()
	for _, secret := range []string{"influx-secret", "abc123"} {
		if strings.Contains(out, secret) {
			t.Errorf("output %q leaks %q", out, secret)
		}
	}
	if !strings.Contains(out, "store.name=sensors") {
		t.Errorf("output %q lost non-secret group attribute", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "service=tsfeed") {
		t.Errorf("text output %q missing warn entry or service field", out)
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	Discard().Error("dropped")
}
