// Package marketdata loads price frames from CSV files.
package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/algomatic/dslbacktest/pkg/types"
)

// requiredCols must appear in every header, in any order and case.
var requiredCols = []string{"timestamp", types.ColOpen, types.ColHigh, types.ColLow, types.ColClose, types.ColVolume}

// LoadCSV loads a frame from a CSV file.
func LoadCSV(path string) (*types.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads a frame from CSV with columns timestamp, open, high, low,
// close, volume. Any other column becomes an extra numeric frame column.
// Empty cells read as NaN. Rows must be in strictly increasing time order.
func ReadCSV(r io.Reader) (*types.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header + at least 1 data row")
	}

	headers := records[0]
	colIdx := make(map[string]int, len(headers))
	for i, h := range headers {
		colIdx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, col := range requiredCols {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	rows := records[1:]
	index := make([]time.Time, len(rows))
	values := make(map[string][]float64, len(colIdx)-1)
	for name := range colIdx {
		if name != "timestamp" {
			values[name] = make([]float64, len(rows))
		}
	}

	for rowNum, row := range rows {
		line := rowNum + 2
		if len(row) != len(headers) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", line, len(headers), len(row))
		}
		ts, err := ParseTimestamp(row[colIdx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", line, err)
		}
		index[rowNum] = ts

		for name, col := range values {
			v, err := parseValue(row[colIdx[name]])
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", line, name, err)
			}
			col[rowNum] = v
		}
	}

	frame, err := types.NewFrame(index)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := frame.SetColumn(name, values[name]); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ParseTimestamp tries multiple timestamp formats.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", s)
}
