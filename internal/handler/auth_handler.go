package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"gamepulse/internal/middleware"
	"gamepulse/internal/model"
	"gamepulse/internal/service"
	"gamepulse/pkg/apierror"
)

type AuthHandler struct {
	sessions  *service.SessionService
	approvals *service.ApprovalService
	cookies   CookiePolicy
}

func NewAuthHandler(sessions *service.SessionService, approvals *service.ApprovalService, cookies CookiePolicy) *AuthHandler {
	return &AuthHandler{sessions: sessions, approvals: approvals, cookies: cookies}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if middleware.IsBodyTooLarge(err) {
			writeError(w, err)
			return
		}
		writeError(w, apierror.New(apierror.CodeBadRequest, "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	pair, err := h.sessions.Login(r.Context(), stringify(payload.Username), stringify(payload.Password))
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.set(w, pair.RefreshToken)
	writeSuccess(w, http.StatusOK, pair)
}

// Refresh rotates the session cookie. Every failure other than a storage
// outage sends the client back to login with 403.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := refreshCookie(r)
	if presented == "" {
		writeError(w, apierror.Unauthenticated("refresh cookie required"))
		return
	}

	pair, err := h.sessions.Rotate(r.Context(), presented)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) || errors.Is(err, model.ErrInvalidRequest) {
			err = apierror.InvalidToken()
		}
		writeError(w, err)
		return
	}

	h.cookies.set(w, pair.RefreshToken)
	writeSuccess(w, http.StatusOK, pair)
}

// Logout always clears the cookie, whatever happens to the stored session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Logout(r.Context(), refreshCookie(r))
	h.cookies.clear(w)

	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthenticated("authentication required"))
		return
	}

	identity, err := h.sessions.CurrentIdentity(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			err = apierror.Unauthenticated("account no longer exists")
		}
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, identity)
}

// Approval records the caller's consent answer. Anything other than a JSON
// boolean counts as consent.
func (h *AuthHandler) Approval(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthenticated("authentication required"))
		return
	}

	var payload model.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		if middleware.IsBodyTooLarge(err) {
			writeError(w, err)
			return
		}
		writeError(w, apierror.New(apierror.CodeBadRequest, "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	consent, isBool := payload.Consent.(bool)
	if !isBool {
		consent = true
	}

	approval, err := h.approvals.Record(r.Context(), user.ID, consent)
	if err != nil {
		slog.Error("failed to record approval", "user_id", user.ID, "error", err)
		writeError(w, apierror.Internal())
		return
	}

	writeSuccess(w, http.StatusCreated, model.ApprovalResponse{
		OK:       true,
		ID:       approval.ID,
		Approved: approval.ConsentGiven,
	})
}

// stringify turns a JSON scalar into a credential string. Falsy values
// become empty so they fail the required check.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
		return "true"
	case float64:
		if val == 0 {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
