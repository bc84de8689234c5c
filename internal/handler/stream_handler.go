package handler

import (
	"log/slog"
	"net/http"
	"time"

	"gamepulse/internal/event"
	"gamepulse/internal/middleware"
)

// StreamHandler serves the live event stream as text/event-stream.
type StreamHandler struct {
	hub          *event.Hub
	writeTimeout time.Duration
}

func NewStreamHandler(hub *event.Hub, writeTimeout time.Duration) *StreamHandler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &StreamHandler{hub: hub, writeTimeout: writeTimeout}
}

func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := &sseConn{w: w, rc: rc, timeout: h.writeTimeout}
	if err := conn.Send([]byte(": connected\n\n")); err != nil {
		slog.Warn("stream open failed", "error", err)
		return
	}

	sub := h.hub.Subscribe(conn)
	defer h.hub.Unsubscribe(sub)

	user, _ := middleware.UserFromContext(r.Context())
	slog.Debug("stream opened", "user_id", user.ID)

	select {
	case <-r.Context().Done():
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			slog.Info("stream closed by hub", "user_id", user.ID, "reason", err)
		}
	}
}

// sseConn writes frames straight to the response. Each frame gets its own
// write deadline in place of the server-wide write timeout.
type sseConn struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (c *sseConn) Send(frame []byte) error {
	_ = c.rc.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.w.Write(frame); err != nil {
		return err
	}
	return c.rc.Flush()
}
