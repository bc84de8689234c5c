package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gamepulse/internal/ingest"
	"gamepulse/internal/middleware"
	"gamepulse/internal/service"
	"gamepulse/internal/snapshot"
	"gamepulse/pkg/apierror"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type PlayerHandler struct {
	players   *service.PlayerService
	snapshots snapshot.Store
}

func NewPlayerHandler(players *service.PlayerService, snapshots snapshot.Store) *PlayerHandler {
	return &PlayerHandler{players: players, snapshots: snapshots}
}

func (h *PlayerHandler) Roster(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthenticated("authentication required"))
		return
	}

	players, err := h.players.Roster(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, players)
}

// Live returns the latest accepted update for every player seen so far.
func (h *PlayerHandler) Live(w http.ResponseWriter, r *http.Request) {
	events, err := h.snapshots.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []ingest.Event{}
	}

	writeSuccess(w, http.StatusOK, events)
}

func (h *PlayerHandler) History(w http.ResponseWriter, r *http.Request) {
	num, err := ingest.CoercePlayerID(chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, err)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, apierror.InvalidPayload("limit must be a positive integer", "limit"))
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	events, err := h.snapshots.History(r.Context(), "P"+strconv.Itoa(num), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []ingest.Event{}
	}

	writeSuccess(w, http.StatusOK, events)
}
