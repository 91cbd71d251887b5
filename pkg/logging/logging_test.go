package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/algomatic/dslbacktest/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf)
	logger.Debug("hidden")
	logger.Info("Backtest completed", "trades", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "Backtest completed" || rec["trades"] != float64(3) {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("Parsed script", "rows", 5)
	if !strings.Contains(buf.String(), "msg=\"Parsed script\"") || !strings.Contains(buf.String(), "rows=5") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}
