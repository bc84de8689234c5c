package apierror

import (
	"fmt"
	"net/http"
)

const (
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeAccessTokenExpired = "ACCESS_TOKEN_EXPIRED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeConsentRequired    = "CONSENT_REQUIRED"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeMisconfigured      = "SERVER_MISCONFIGURED"
)

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

// InvalidPayload is returned for producer or client bodies that fail validation.
func InvalidPayload(message string, field string) *APIError {
	return New(CodeInvalidPayload, message, field, http.StatusBadRequest)
}

func Unauthenticated(message string) *APIError {
	return New(CodeUnauthenticated, message, "", http.StatusUnauthorized)
}

func InvalidToken() *APIError {
	return New(CodeInvalidToken, "invalid token", "", http.StatusForbidden)
}

func Internal() *APIError {
	return New(CodeInternal, "Unexpected server error", "", http.StatusInternalServerError)
}
