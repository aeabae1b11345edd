package models

import "time"

// Account security states form a one-way escalation within a tracking
// window: Normal -> Warning -> Locked, returning to Normal on expiry,
// successful authentication, or administrative unlock.
type AccountStatus string

const (
	StatusNormal  AccountStatus = "normal"
	StatusWarning AccountStatus = "warning"
	StatusLocked  AccountStatus = "locked"
	// StatusUnknown is reported when the store is unreachable. Account
	// security fails closed, so callers must treat it as a denial.
	StatusUnknown AccountStatus = "unknown"
)

// AccountSecurityResult reports the account state after a recorded failure
// or a status query.
type AccountSecurityResult struct {
	SubjectID         string        `json:"subject_id"`
	Status            AccountStatus `json:"status"`
	FailedAttempts    int64         `json:"failed_attempts"`
	RemainingAttempts int64         `json:"remaining_attempts"`
	SecondsToUnlock   int64         `json:"seconds_to_unlock,omitempty"`
	// NextLockoutSeconds previews the duration the next lockout in the
	// tracking window would carry.
	NextLockoutSeconds int64 `json:"next_lockout_seconds,omitempty"`
}

// LockoutRecord is the stored representation of an active lockout
type LockoutRecord struct {
	SubjectID    string    `json:"subject_id"`
	Attempts     int64     `json:"attempts"`
	Reason       string    `json:"reason"`
	StartedAt    time.Time `json:"started_at"`
	DurationSecs int64     `json:"duration_seconds"`
	ExpiresAt    time.Time `json:"expires_at"`
	// PriorLockouts is the escalation index that selected this lockout's
	// duration.
	PriorLockouts int64 `json:"prior_lockouts"`
}
