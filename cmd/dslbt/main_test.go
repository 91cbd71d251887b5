package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rules.dsl")
	if err := os.WriteFile(file, []byte("ENTRY: close > 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name                    string
		text, file, preset, def string
		want                    string
		wantErr                 bool
	}{
		{name: "text", text: "ENTRY: close > 2", want: "ENTRY: close > 2"},
		{name: "file", file: file, want: "ENTRY: close > 1"},
		{name: "default file", def: file, want: "ENTRY: close > 1"},
		{name: "preset", preset: "breakout_20", want: "ENTRY: close > highest(high, 20)[1]"},
		{name: "unknown preset", preset: "nope", wantErr: true},
		{name: "two sources", text: "ENTRY: close > 1", preset: "sma_trend", wantErr: true},
		{name: "none", wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "missing.dsl"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSource(tt.text, tt.file, tt.preset, tt.def)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("got %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestLoadFrameArguments(t *testing.T) {
	deps := &collaborators{}
	ctx := context.Background()
	if _, err := loadFrame(ctx, deps, "a.csv", "AAPL", "1Day", "", ""); err == nil {
		t.Error("expected error for csv and symbol together")
	}
	if _, err := loadFrame(ctx, deps, "", "", "1Day", "", ""); err == nil {
		t.Error("expected error without a data source")
	}
	if _, err := loadFrame(ctx, deps, "", "AAPL", "1Day", "", ""); err == nil {
		t.Error("expected error without a configured bar source")
	}
}

func TestPrintPresets(t *testing.T) {
	var buf bytes.Buffer
	printPresets(&buf)
	if !strings.Contains(buf.String(), "golden_cross") || !strings.Contains(buf.String(), "Total:") {
		t.Errorf("unexpected listing:\n%s", buf.String())
	}
}
