package handler

import (
	"crypto/subtle"
	"net/http"

	"gamepulse/internal/ingest"
	"gamepulse/internal/service"
	"gamepulse/pkg/apierror"
)

const apiKeyHeader = "X-API-Key"

type IngestHandler struct {
	ingest     *service.IngestService
	ingestKey  string
	webhookKey string
}

// NewIngestHandler wires producer endpoints. An empty ingestKey leaves the
// push endpoints open; an empty webhookKey makes the webhook refuse all
// requests.
func NewIngestHandler(ingest *service.IngestService, ingestKey string, webhookKey string) *IngestHandler {
	return &IngestHandler{ingest: ingest, ingestKey: ingestKey, webhookKey: webhookKey}
}

func (h *IngestHandler) PushFatigue(w http.ResponseWriter, r *http.Request) {
	h.push(w, r, ingest.KindFatigue)
}

func (h *IngestHandler) PushPosition(w http.ResponseWriter, r *http.Request) {
	h.push(w, r, ingest.KindPosition)
}

func (h *IngestHandler) push(w http.ResponseWriter, r *http.Request, kind ingest.Kind) {
	defer r.Body.Close()

	if h.ingestKey != "" && !keyMatches(r.Header.Get(apiKeyHeader), h.ingestKey) {
		writeError(w, apierror.Unauthenticated("invalid api key"))
		return
	}

	payload, err := decodeObject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.ingest.Accept(r.Context(), kind, payload); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Alert relays a monitoring webhook to the stream.
func (h *IngestHandler) Alert(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if h.webhookKey == "" {
		writeError(w, apierror.New(apierror.CodeMisconfigured, "webhook key is not configured", "", http.StatusInternalServerError))
		return
	}
	if !keyMatches(r.Header.Get(apiKeyHeader), h.webhookKey) {
		writeError(w, apierror.Unauthenticated("invalid api key"))
		return
	}

	payload, err := decodeObject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.ingest.Alert(r.Context(), payload); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

func keyMatches(presented string, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
