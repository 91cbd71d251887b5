// Package backend fetches OHLCV bars over HTTP from the market data backend.
//
// Usage:
//
//	client := backend.NewClient("http://localhost:8000", nil)
//	frame, err := client.LoadFrame(ctx, "AAPL", "1Day", start, end)
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/algomatic/dslbacktest/pkg/marketdata"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// DefaultTimeout is the per-request timeout applied to API calls.
const DefaultTimeout = 30 * time.Second

// MaxRetries is the number of retry attempts for transient errors.
const MaxRetries = 3

// Config holds optional configuration for the backend client.
type Config struct {
	// Timeout per HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries for transient errors. Zero means the package default.
	MaxRetries int

	// BaseBackoff is the first retry delay, doubled per attempt. Zero means 500ms.
	BaseBackoff time.Duration

	// Logger for debug/info output. Nil uses slog.Default().
	Logger *slog.Logger

	// EnableCache enables in-memory caching of frames.
	EnableCache bool
}

// Client is an HTTP client for the bars endpoint.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger

	// symbol+timeframe+range -> frame
	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
	cacheOn bool
}

type cacheEntry struct {
	frame     *types.Frame
	fetchedAt time.Time
}

// NewClient creates a new backend API client.
//
// baseURL should include the scheme and host, e.g. "http://localhost:8000".
// A nil config uses sensible defaults.
func NewClient(baseURL string, cfg *Config) *Client {
	timeout := DefaultTimeout
	retries := MaxRetries
	backoff := 500 * time.Millisecond
	logger := slog.Default()
	enableCache := false

	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.MaxRetries > 0 {
			retries = cfg.MaxRetries
		}
		if cfg.BaseBackoff > 0 {
			backoff = cfg.BaseBackoff
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		enableCache = cfg.EnableCache
	}

	logger.Info("Backend client initialised",
		"base_url", baseURL,
		"timeout", timeout,
		"max_retries", retries,
		"cache", enableCache,
	)

	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  retries,
		baseBackoff: backoff,
		logger:      logger,
		cache:       make(map[string]cacheEntry),
		cacheOn:     enableCache,
	}
}

type barsResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []barPayload `json:"bars"`
}

type barPayload struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ErrNoBars is matched when the backend has no bars for a request, either
// because it answered 404 or because the bar list was empty.
var ErrNoBars = errors.New("backend: no bars")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend status %d", e.Status)
}

// Is makes errors.Is(err, ErrNoBars) true for a 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNoBars && e.Status == http.StatusNotFound
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// barsQuery encodes the request. A zero start or end is left out so the
// backend applies its own bound.
func barsQuery(symbol, timeframe string, start, end time.Time) url.Values {
	q := url.Values{"symbol": {symbol}, "timeframe": {timeframe}}
	if !start.IsZero() {
		q.Set("start_timestamp", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end_timestamp", end.UTC().Format(time.RFC3339))
	}
	return q
}

// GetBars fetches OHLCV bars in backend order. Bars with unparseable
// timestamps are skipped.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Bar, error) {
	body, err := c.getWithRetry(ctx, "/api/bars", barsQuery(symbol, timeframe, start, end))
	if err != nil {
		return nil, fmt.Errorf("bars %s/%s: %w", symbol, timeframe, err)
	}

	var resp barsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bars %s/%s: decoding response: %w", symbol, timeframe, err)
	}

	bars := make([]types.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, err := marketdata.ParseTimestamp(b.Timestamp)
		if err != nil {
			c.logger.Warn("Skipping bar with unparseable timestamp", "ts", b.Timestamp, "error", err)
			continue
		}
		bars = append(bars, types.Bar{Timestamp: ts, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
	}
	c.logger.Info("Fetched bars", "symbol", symbol, "timeframe", timeframe, "count", len(bars))
	return bars, nil
}

// LoadFrame fetches bars and returns them as a frame ordered by time.
// Duplicate timestamps keep the first bar. Results are cached when caching
// is enabled.
func (c *Client) LoadFrame(
	ctx context.Context,
	symbol, timeframe string,
	start, end time.Time,
) (*types.Frame, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s|%s", symbol, timeframe,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	if c.cacheOn {
		c.cacheMu.RLock()
		entry, ok := c.cache[cacheKey]
		c.cacheMu.RUnlock()
		if ok {
			c.logger.Debug("Cache hit for frame", "key", cacheKey)
			return entry.frame, nil
		}
	}

	bars, err := c.GetBars(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("bars %s/%s: %w", symbol, timeframe, ErrNoBars)
	}

	frame, err := types.FrameFromBars(c.orderBars(bars))
	if err != nil {
		return nil, fmt.Errorf("bars %s/%s: %w", symbol, timeframe, err)
	}

	if c.cacheOn {
		c.cacheMu.Lock()
		c.cache[cacheKey] = cacheEntry{frame: frame, fetchedAt: time.Now()}
		c.cacheMu.Unlock()
	}
	return frame, nil
}

// ClearCache removes all cached entries.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.cacheMu.Unlock()
	c.logger.Debug("Cache cleared")
}

// orderBars sorts by time and keeps the first bar of every timestamp.
func (c *Client) orderBars(bars []types.Bar) []types.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			c.logger.Warn("Dropping duplicate bar", "ts", b.Timestamp)
			continue
		}
		out = append(out, b)
	}
	return out
}

// getWithRetry repeats fetch while it fails with a transport error or a
// retryable status, sleeping baseBackoff, 2*baseBackoff, ... between tries.
func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path + "?" + query.Encode()
	delay := c.baseBackoff

	var err error
	for attempt := 0; ; attempt++ {
		var body []byte
		body, err = c.fetch(ctx, target)
		if err == nil {
			return body, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Warn("Backend request failed, retrying", "url", target, "attempt", attempt+1, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", c.maxRetries, err)
}

// fetch performs one GET and returns the body of a 2xx answer.
func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return body, nil
	}

	se := &StatusError{Status: resp.StatusCode}
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil {
		se.Detail = detail.Detail
	}
	return nil, se
}
