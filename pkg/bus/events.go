package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/marketdata"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// Event types.
const (
	EventBacktestCompleted = "backtest.completed"
	EventBacktestFailed    = "backtest.failed"
)

// Source identifies this service on published events.
const Source = "dslbacktest"

// Event is a message published on the bus.
type Event struct {
	EventType     string         `json:"event_type"`
	RunID         string         `json:"run_id"`
	Symbol        string         `json:"symbol"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// NewCompletedEvent describes a finished run.
func NewCompletedEvent(runID, symbol string, res *types.Result, summary backtest.Summary) *Event {
	payload := map[string]any{
		"total_return":     res.TotalReturn,
		"max_drawdown":     res.MaxDrawdown,
		"number_of_trades": res.NumberOfTrades,
		"win_rate":         summary.WinRate,
		"forced_end":       summary.ForcedEnd,
	}
	if n := len(res.Trades); n > 0 {
		payload["first_entry"] = res.Trades[0].EntryDate
		payload["last_exit"] = res.Trades[n-1].ExitDate
	}
	return &Event{
		EventType:     EventBacktestCompleted,
		RunID:         runID,
		Symbol:        symbol,
		Source:        Source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: runID,
		Payload:       payload,
	}
}

// NewFailedEvent describes a run that stopped with an error.
func NewFailedEvent(runID, symbol string, runErr error) *Event {
	return &Event{
		EventType:     EventBacktestFailed,
		RunID:         runID,
		Symbol:        symbol,
		Source:        Source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: runID,
		Payload:       map[string]any{"error": runErr.Error()},
	}
}

// Marshal serializes an event to JSON. Times inside the payload are tagged
// as {"__type__": "datetime", "value": ...}.
func (e *Event) Marshal() ([]byte, error) {
	wire := map[string]any{
		"event_type":     e.EventType,
		"run_id":         e.RunID,
		"symbol":         e.Symbol,
		"source":         e.Source,
		"timestamp":      e.Timestamp.Format(time.RFC3339Nano),
		"correlation_id": e.CorrelationID,
		"payload":        serializePayload(e.Payload),
	}
	return json.Marshal(wire)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling event JSON: %w", err)
	}

	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}

	ts, err := marketdata.ParseTimestamp(str("timestamp"))
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp: %w", err)
	}

	payloadRaw, _ := raw["payload"].(map[string]any)
	return &Event{
		EventType:     str("event_type"),
		RunID:         str("run_id"),
		Symbol:        str("symbol"),
		Source:        str("source"),
		Timestamp:     ts.UTC(),
		CorrelationID: str("correlation_id"),
		Payload:       deserializePayload(payloadRaw),
	}, nil
}

func serializePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = serializeValue(v)
	}
	return result
}

func serializeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{
			"__type__": "datetime",
			"value":    val.Format(time.RFC3339Nano),
		}
	case map[string]any:
		return serializePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = serializeValue(item)
		}
		return out
	default:
		return v
	}
}

func deserializePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = deserializeValue(v)
	}
	return result
}

func deserializeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val["__type__"] == "datetime" {
			if s, ok := val["value"].(string); ok {
				if t, err := marketdata.ParseTimestamp(s); err == nil {
					return t.UTC()
				}
			}
		}
		return deserializePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deserializeValue(item)
		}
		return out
	default:
		return v
	}
}
