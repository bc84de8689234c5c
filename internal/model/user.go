package model

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	RefreshHash  string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasSession reports whether a refresh credential is currently stored.
func (u User) HasSession() bool {
	return u.RefreshHash != ""
}

// AuthClaims is the decoded, verified content of an access or refresh token.
// Subject is empty for legacy refresh tokens that only carry a username.
type AuthClaims struct {
	Subject  string    `json:"sub"`
	Username string    `json:"username"`
	Type     string    `json:"typ"`
	TokenID  string    `json:"jti"`
	Expires  time.Time `json:"exp"`
}

type AuthUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Approved bool   `json:"approved"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"-"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Approval struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ConsentGiven bool      `json:"consent_given"`
	ConsentTime  time.Time `json:"consent_time"`
}

type Player struct {
	ID            string    `json:"id"`
	CoachID       string    `json:"-"`
	JerseyNumber  int       `json:"jersey_number"`
	Position      string    `json:"position"`
	HRRestEst     *float64  `json:"hr_rest_est"`
	HRMaxEst      *float64  `json:"hr_max_est"`
	CardioLevel   *string   `json:"cardio_level"`
	RecoveryScore *float64  `json:"recovery_score"`
	CreatedAt     time.Time `json:"created_at"`
}
