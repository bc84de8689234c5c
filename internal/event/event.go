package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypePlayerUpdate Type = "player_update"
	TypeAlert        Type = "alert"
)

// KeepAliveFrame is an SSE comment; clients ignore it but proxies see traffic.
var KeepAliveFrame = []byte(": keep-alive\n\n")

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame renders the event in text/event-stream form:
//
//	id: <ulid>
//	event: <type>
//	data: <json>
func (e Event) Frame() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return formatFrame(e.ID, string(e.Type), string(data)), nil
}

// formatFrame prefixes every line of data with "data: " so payloads with
// embedded newlines stay one event.
func formatFrame(id string, name string, data string) []byte {
	var b bytes.Buffer
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	b.WriteString("event: " + name + "\n")

	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(strings.TrimSuffix(data, "\n"), "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteByte('\n')
	return b.Bytes()
}
