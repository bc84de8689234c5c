package model

import "errors"

var (
	// User related errors
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrAmbiguousCredentials = errors.New("ambiguous credentials")

	// Token related errors
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidRefresh = errors.New("invalid refresh token")
	ErrNoStoredToken  = errors.New("no stored refresh token")

	// Access related errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConsentRequired = errors.New("consent required")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
