package handler

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks      map[string]Pinger
	subscribers func() int
}

// NewHealthHandler reports liveness plus the state of optional backends.
// A nil checker is skipped.
func NewHealthHandler(checks map[string]Pinger, subscribers func() int) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{checks: active, subscribers: subscribers}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	backends := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			backends[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		backends[name] = "up"
	}

	body := map[string]any{
		"status":   "ok",
		"backends": backends,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.subscribers != nil {
		body["subscribers"] = h.subscribers()
	}

	writeSuccess(w, status, body)
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
