package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLoggerJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := InitLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
	NewComponentLogger(logger, "session").Info("session_started", "session_id", "s-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var rec map[string]any
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		t.Fatalf("expected json line, got %q: %v", last, err)
	}
	if rec["component"] != "session" || rec["session_id"] != "s-1" {
		t.Fatalf("missing attrs in %v", rec)
	}
}

func TestInitLoggerFallsBack(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := InitLogger(LogConfig{Level: "loud", Format: "yaml", Output: &buf})
	if !logger.Enabled(context.Background(), slog.LevelInfo) || logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected info level fallback")
	}
	out := buf.String()
	if !strings.Contains(out, "invalid log level") || !strings.Contains(out, "invalid log format") {
		t.Fatalf("expected fallback warnings, got %q", out)
	}
}
