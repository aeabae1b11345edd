package models

import "time"

// CSRF validation failure codes
const (
	CSRFFailureMissingTokens   = "missing_tokens"
	CSRFFailureTokenMismatch   = "token_mismatch"
	CSRFFailureTokenNotFound   = "token_not_found"
	CSRFFailureContextMismatch = "context_mismatch"
)

// CSRFBinding optionally ties a token to the context it was issued for.
// Empty fields are unbound and not enforced at validation time.
type CSRFBinding struct {
	SubjectID string `json:"subject_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	// UserAgentHash is a fingerprint, never the raw user agent string.
	UserAgentHash string `json:"user_agent_hash,omitempty"`
}

// CSRFTokenRecord is the server-side record of an issued token
type CSRFTokenRecord struct {
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Binding   CSRFBinding `json:"binding,omitempty"`
}

// CSRFValidationResult reports the outcome of a double-submit check.
// FailureCode is empty when Valid is true.
type CSRFValidationResult struct {
	Valid       bool    `json:"valid"`
	FailureCode string  `json:"failure_code,omitempty"`
	TokenAge    float64 `json:"token_age_seconds,omitempty"`
}
