package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"gamepulse/internal/ingest"
	"gamepulse/internal/middleware"
	"gamepulse/internal/model"
	"gamepulse/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    apierror.CodeInternal,
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var validationErr *ingest.ValidationError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.As(err, &validationErr) {
		status = http.StatusBadRequest
		body.Code = apierror.CodeInvalidPayload
		body.Message = validationErr.Reason
		body.Details = validationErr.Field
	} else if middleware.IsBodyTooLarge(err) {
		status = http.StatusRequestEntityTooLarge
		body.Code = apierror.CodePayloadTooLarge
		body.Message = "payload too large"
	} else if errors.Is(err, model.ErrInvalidRequest) {
		status = http.StatusBadRequest
		body.Code = apierror.CodeBadRequest
		body.Message = "username and password are required"
	} else if errors.Is(err, model.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		body.Code = apierror.CodeInvalidCredentials
		body.Message = "Invalid username or password"
	} else if errors.Is(err, model.ErrAmbiguousCredentials) {
		status = http.StatusConflict
		body.Code = apierror.CodeConflict
		body.Message = "Ambiguous credentials"
	} else if errors.Is(err, model.ErrInvalidRefresh) || errors.Is(err, model.ErrNoStoredToken) ||
		errors.Is(err, model.ErrTokenInvalid) || errors.Is(err, model.ErrTokenExpired) {
		status = http.StatusForbidden
		body.Code = apierror.CodeInvalidToken
		body.Message = "invalid token"
	} else if errors.Is(err, model.ErrUnauthenticated) {
		status = http.StatusUnauthorized
		body.Code = apierror.CodeUnauthenticated
		body.Message = "authentication required"
	} else if errors.Is(err, model.ErrConsentRequired) {
		status = http.StatusForbidden
		body.Code = apierror.CodeConsentRequired
		body.Message = "consent required"
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = apierror.CodeNotFound
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrUserAlreadyExists) {
		status = http.StatusConflict
		body.Code = apierror.CodeConflict
		body.Message = "User already exists"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = apierror.CodeInvalidPayload
		body.Message = "Invalid input"
	} else {
		// Storage and other upstream failures: full detail in the log only.
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// decodeObject reads a JSON object body. Numbers stay json.Number so the
// validator sees exactly what the producer sent.
func decodeObject(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		if middleware.IsBodyTooLarge(err) {
			return nil, err
		}
		return nil, apierror.InvalidPayload("invalid JSON body", "body")
	}
	if payload == nil {
		return nil, apierror.InvalidPayload("body must be a JSON object", "body")
	}
	return payload, nil
}
