package marketdata

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/algomatic/dslbacktest/pkg/types"
)

const sample = `Timestamp,Open,High,Low,Close,Volume,vwap
2025-01-01,10,11,9,10.5,1000,10.2
2025-01-02,10.5,12,10,11.5,1500,
2025-01-03 15:30:00,11.5,13,11,12.5,2000,12.1
`

func TestReadCSV(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if f.Len() != 3 {
		t.Fatalf("rows = %d, want 3", f.Len())
	}
	closes, _ := f.Column("close")
	if !reflect.DeepEqual(closes, []float64{10.5, 11.5, 12.5}) {
		t.Errorf("close = %v", closes)
	}
	vwap, ok := f.Column("vwap")
	if !ok || !math.IsNaN(vwap[1]) || vwap[2] != 12.1 {
		t.Errorf("vwap = %v", vwap)
	}
	if want := time.Date(2025, 1, 3, 15, 30, 0, 0, time.UTC); !f.Index[2].Equal(want) {
		t.Errorf("index[2] = %v", f.Index[2])
	}
	if err := f.HasColumns(types.OHLCVColumns); err != nil {
		t.Error(err)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"header only":    "timestamp,open,high,low,close,volume\n",
		"missing column": "timestamp,open,high,low,close\n2025-01-01,1,1,1,1\n",
		"bad timestamp":  "timestamp,open,high,low,close,volume\n01/02/2025,1,1,1,1,1\n",
		"bad number":     "timestamp,open,high,low,close,volume\n2025-01-01,1,1,1,abc,1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadCSVUnordered(t *testing.T) {
	body := "timestamp,open,high,low,close,volume\n2025-01-02,1,1,1,1,1\n2025-01-01,1,1,1,1,1\n"
	if _, err := ReadCSV(strings.NewReader(body)); !errors.Is(err, types.ErrIndexOrder) {
		t.Errorf("expected ErrIndexOrder, got %v", err)
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != 3 {
		t.Errorf("rows = %d", f.Len())
	}
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{"2025-01-01T09:30:00Z", "2025-01-01T09:30:00", "2025-01-01 09:30:00", "2025-01-01"} {
		if _, err := ParseTimestamp(s); err != nil {
			t.Errorf("ParseTimestamp(%q): %v", s, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error")
	}
}
