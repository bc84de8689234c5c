// Package ingest normalizes producer payloads into broadcastable events.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gamepulse/internal/model"
)

type Kind string

const (
	KindFatigue  Kind = "fatigue"
	KindPosition Kind = "position"
)

const (
	MinPlayerID = 1
	MaxPlayerID = 40
	MinLevel    = 1
	MaxLevel    = 5
)

var (
	numericFatigueMetrics  = []string{"hr", "hrv", "respiration", "rr", "pos_x", "pos_y", "distanceHI"}
	flagFatigueMetrics     = []string{"cod", "sprint", "impact"}
	numericPositionMetrics = []string{"pos_x", "pos_y"}

	playerIDPattern = regexp.MustCompile(`(?i)^p?(\d+)$`)
)

// Event is one accepted player update. Level is nil when the producer sent
// nothing usable. Metrics values are nil for unknown readings.
type Event struct {
	PID     string              `json:"pid"`
	Level   *float64            `json:"level,omitempty"`
	Metrics map[string]*float64 `json:"metrics"`
	TS      int64               `json:"ts"`
}

// ValidationError names the rejected field. It matches model.ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return model.ErrInvalidInput
}

type Validator struct {
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate turns a decoded JSON object into an Event or rejects it. Only
// the player id can cause a rejection; every other field degrades to an
// explicit unknown.
func (v *Validator) Validate(kind Kind, payload map[string]any) (Event, error) {
	if payload == nil {
		return Event{}, &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	raw, ok := payload["player_id"]
	if !ok || raw == nil {
		return Event{}, &ValidationError{Field: "player_id", Reason: "is required"}
	}

	num, err := CoercePlayerID(raw)
	if err != nil {
		return Event{}, err
	}

	metrics := map[string]*float64{
		"timestamp": NormalizeTimestamp(payload["timestamp"]),
	}

	var level *float64
	switch kind {
	case KindFatigue:
		for _, key := range numericFatigueMetrics {
			metrics[key] = ToFinite(payload[key])
		}
		for _, key := range flagFatigueMetrics {
			metrics[key] = To01(payload[key])
		}
		if l, ok := CoerceLevel(payload["fatigue_level"]); ok {
			level = &l
		}
		metrics["provided_fatigue_level"] = level
	case KindPosition:
		for _, key := range numericPositionMetrics {
			metrics[key] = ToFinite(payload[key])
		}
	default:
		return Event{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", kind)}
	}

	return Event{
		PID:     "P" + strconv.Itoa(num),
		Level:   level,
		Metrics: metrics,
		TS:      v.now().UnixMilli(),
	}, nil
}

// CoercePlayerID accepts a number (truncated) or a string like "7", "P7" or
// "p07" and requires the result to be within 1..40.
func CoercePlayerID(raw any) (int, error) {
	var n float64
	switch val := raw.(type) {
	case float64:
		n = val
	case int:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, &ValidationError{Field: "player_id", Reason: "must be a number or P<number>"}
		}
		n = f
	case string:
		m := playerIDPattern.FindStringSubmatch(strings.TrimSpace(val))
		if m == nil {
			return 0, &ValidationError{Field: "player_id", Reason: "must be a number or P<number>"}
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, &ValidationError{Field: "player_id", Reason: "must be a number or P<number>"}
		}
		n = f
	default:
		return 0, &ValidationError{Field: "player_id", Reason: "must be a number or P<number>"}
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, &ValidationError{Field: "player_id", Reason: "must be finite"}
	}

	n = math.Trunc(n)
	if n < MinPlayerID || n > MaxPlayerID {
		return 0, &ValidationError{Field: "player_id", Reason: fmt.Sprintf("must be %d..%d", MinPlayerID, MaxPlayerID)}
	}
	return int(n), nil
}

// CoerceLevel reports a fatigue level only when it is a finite number in
// 1..5. No default is ever substituted.
func CoerceLevel(raw any) (float64, bool) {
	n := ToFinite(raw)
	if n == nil || *n < MinLevel || *n > MaxLevel {
		return 0, false
	}
	return *n, true
}

// ToFinite coerces numbers and numeric strings. Everything else, including
// blank strings and booleans, is unknown.
func ToFinite(raw any) *float64 {
	var n float64
	switch val := raw.(type) {
	case float64:
		n = val
	case int:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil
		}
		n = f
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n = f
	default:
		return nil
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}

// To01 maps truthy and falsy flag spellings to 1 and 0.
func To01(raw any) *float64 {
	var s string
	switch val := raw.(type) {
	case nil:
		return nil
	case bool:
		s = strconv.FormatBool(val)
	case string:
		s = val
	default:
		s = fmt.Sprint(val)
	}

	one, zero := 1.0, 0.0
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true":
		return &one
	case "0", "no", "false":
		return &zero
	default:
		return nil
	}
}

// NormalizeTimestamp returns the producer timestamp as epoch milliseconds.
// Numbers pass through; strings may be numeric or RFC 3339.
func NormalizeTimestamp(raw any) *float64 {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ms := float64(t.UnixMilli())
			return &ms
		}
	}
	return ToFinite(raw)
}
