// Package websocket accepts producer ingest over a long-lived socket.
package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gamepulse/internal/ingest"
	"gamepulse/internal/model"
)

const writeWait = 10 * time.Second

type Accepter interface {
	Accept(ctx context.Context, kind ingest.Kind, payload map[string]any) (ingest.Event, error)
}

type HandlerConfig struct {
	APIKey          string
	MaxMessageBytes int64
	PongWait        time.Duration
}

type Handler struct {
	ingest   Accepter
	apiKey   string
	maxBytes int64
	pongWait time.Duration
	upgrader websocket.Upgrader
}

// ack is written after every message, in order.
type ack struct {
	OK    bool   `json:"ok"`
	PID   string `json:"pid,omitempty"`
	Error string `json:"error,omitempty"`
	Field string `json:"field,omitempty"`
}

func NewHandler(acc Accepter, cfg HandlerConfig) *Handler {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 8 * 1024
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}

	return &Handler{
		ingest:   acc,
		apiKey:   cfg.APIKey,
		maxBytes: cfg.MaxMessageBytes,
		pongWait: cfg.PongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Producers are services, not browsers; the API key is the gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(model.APIResponse{
			Success: false,
			Error:   &model.APIError{Code: "UNAUTHENTICATED", Message: "invalid api key"},
		})
		return
	}

	// The server write timeout would otherwise cut the socket; acks set
	// their own deadline below.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ingest socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.maxBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	slog.Info("ingest socket opened", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("ingest socket closed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		reply := h.handleMessage(r.Context(), data)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			slog.Warn("ingest socket ack failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, data []byte) ack {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return ack{Error: "message must be a JSON object", Field: "body"}
	}

	kind, _ := payload["kind"].(string)
	delete(payload, "kind")
	switch ingest.Kind(kind) {
	case ingest.KindFatigue, ingest.KindPosition:
	default:
		return ack{Error: "kind must be fatigue or position", Field: "kind"}
	}

	ev, err := h.ingest.Accept(ctx, ingest.Kind(kind), payload)
	if err != nil {
		var validationErr *ingest.ValidationError
		if errors.As(err, &validationErr) {
			return ack{Error: validationErr.Reason, Field: validationErr.Field}
		}
		slog.Error("ingest socket accept failed", "error", err)
		return ack{Error: "internal error"}
	}

	return ack{OK: true, PID: ev.PID}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		presented = r.URL.Query().Get("api_key")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.apiKey)) == 1
}
