package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrIndexOrder is returned when a frame index is not strictly increasing.
	ErrIndexOrder = errors.New("index is not strictly increasing")

	// ErrColumnLength is returned when a column does not match the index length.
	ErrColumnLength = errors.New("column length does not match index")

	// ErrColumnNotFound is returned when a required column is absent from a frame.
	ErrColumnNotFound = errors.New("column not found")
)

// Frame is a time-indexed columnar price table.
// Missing values are represented by NaN. A Frame must not be modified once
// it has been handed to an evaluator.
type Frame struct {
	Index   []time.Time
	columns map[string][]float64
}

// NewFrame creates an empty frame over the given index.
// The index must be strictly increasing (no duplicate keys).
func NewFrame(index []time.Time) (*Frame, error) {
	for i := 1; i < len(index); i++ {
		if !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("row %d (%s): %w", i, index[i].Format(time.RFC3339), ErrIndexOrder)
		}
	}
	return &Frame{
		Index:   index,
		columns: make(map[string][]float64),
	}, nil
}

// FrameFromBars builds a frame with the five OHLCV columns from bars.
func FrameFromBars(bars []Bar) (*Frame, error) {
	index := make([]time.Time, len(bars))
	open := make([]float64, len(bars))
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	volume := make([]float64, len(bars))
	for i, b := range bars {
		index[i] = b.Timestamp
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
	}

	f, err := NewFrame(index)
	if err != nil {
		return nil, err
	}
	f.columns[ColOpen] = open
	f.columns[ColHigh] = high
	f.columns[ColLow] = low
	f.columns[ColClose] = closes
	f.columns[ColVolume] = volume
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Index)
}

// SetColumn adds or replaces a column. Names are stored lower-case.
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.Index) {
		return fmt.Errorf("column %q has %d values, index has %d: %w",
			name, len(values), len(f.Index), ErrColumnLength)
	}
	f.columns[strings.ToLower(name)] = values
	return nil
}

// Column returns the named column. The returned slice must not be modified.
func (f *Frame) Column(name string) ([]float64, bool) {
	v, ok := f.columns[name]
	return v, ok
}

// MustColumn returns the named column or an ErrColumnNotFound error.
func (f *Frame) MustColumn(name string) ([]float64, error) {
	v, ok := f.columns[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrColumnNotFound)
	}
	return v, nil
}

// HasColumns reports the first of names missing from the frame, if any.
func (f *Frame) HasColumns(names []string) error {
	for _, n := range names {
		if _, ok := f.columns[n]; !ok {
			return fmt.Errorf("%q: %w", n, ErrColumnNotFound)
		}
	}
	return nil
}

// Columns returns the column names sorted alphabetically.
func (f *Frame) Columns() []string {
	names := make([]string, 0, len(f.columns))
	for n := range f.columns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bar returns row i as a Bar. Absent OHLCV columns read as zero.
func (f *Frame) Bar(i int) Bar {
	get := func(col string) float64 {
		if v, ok := f.columns[col]; ok {
			return v[i]
		}
		return 0
	}
	return Bar{
		Timestamp: f.Index[i],
		Open:      get(ColOpen),
		High:      get(ColHigh),
		Low:       get(ColLow),
		Close:     get(ColClose),
		Volume:    get(ColVolume),
	}
}
