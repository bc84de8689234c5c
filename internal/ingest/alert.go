package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	AlertMissingData = "missing_data"
	AlertDelayedData = "delayed_data"
)

// Alert is an operational notice relayed from the monitoring webhook.
type Alert struct {
	Type         string `json:"type"`
	Source       string `json:"source"`
	PlayerID     any    `json:"player_id"`
	DelaySeconds *int64 `json:"delay_seconds,omitempty"`
	LastUpdate   any    `json:"last_update,omitempty"`
	Timestamp    any    `json:"timestamp,omitempty"`
	ReceivedAt   string `json:"received_at"`
}

// ValidateAlert checks a webhook body. missing_data needs a player and a
// source of polar or zebra; delayed_data needs a player and carries the
// delay rounded to whole seconds.
func (v *Validator) ValidateAlert(payload map[string]any) (Alert, error) {
	if payload == nil {
		return Alert{}, &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	typ := strings.TrimSpace(stringOf(payload["type"]))
	if typ == "" {
		return Alert{}, &ValidationError{Field: "type", Reason: "missing type"}
	}

	playerID, ok := payload["player_id"]
	if !ok || playerID == nil || strings.TrimSpace(stringOf(playerID)) == "" {
		return Alert{}, &ValidationError{Field: "player_id", Reason: "player_id required"}
	}

	source := stringOf(payload["source"])
	alert := Alert{
		Type:       typ,
		Source:     source,
		PlayerID:   playerID,
		Timestamp:  payload["timestamp"],
		ReceivedAt: v.now().UTC().Format(time.RFC3339Nano),
	}
	if alert.Source == "" {
		alert.Source = "unknown"
	}

	switch typ {
	case AlertMissingData:
		switch strings.ToLower(source) {
		case "polar", "zebra":
		default:
			return Alert{}, &ValidationError{Field: "source", Reason: "source must be 'polar' or 'zebra'"}
		}
	case AlertDelayedData:
		if d := ToFinite(payload["delay_seconds"]); d != nil {
			rounded := int64(math.Floor(*d + 0.5))
			alert.DelaySeconds = &rounded
		}
		alert.LastUpdate = payload["last_update"]
	default:
		return Alert{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported type: %s", typ)}
	}

	return alert, nil
}

func stringOf(raw any) string {
	switch val := raw.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
