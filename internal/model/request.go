package model

// LoginRequest accepts any JSON scalar for both fields; non-string values
// are stringified before lookup.
type LoginRequest struct {
	Username any `json:"username"`
	Password any `json:"password"`
}

// ApprovalRequest.Consent defaults to true unless it is a JSON boolean.
type ApprovalRequest struct {
	Consent any `json:"consent"`
}

type ApprovalResponse struct {
	OK       bool  `json:"ok"`
	ID       int64 `json:"id"`
	Approved bool  `json:"approved"`
}
