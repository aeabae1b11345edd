package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity levels for security events
type EventLevel string

const (
	EventLevelDebug    EventLevel = "debug"
	EventLevelInfo     EventLevel = "info"
	EventLevelWarning  EventLevel = "warning"
	EventLevelError    EventLevel = "error"
	EventLevelCritical EventLevel = "critical"
)

// Event categories group events by the defense component that emitted them
type EventCategory string

const (
	CategoryAuthentication  EventCategory = "authentication"
	CategoryInputValidation EventCategory = "input_validation"
	CategoryRateLimiting    EventCategory = "rate_limiting"
	CategoryCSRFProtection  EventCategory = "csrf_protection"
	CategoryAccountSecurity EventCategory = "account_security"
	CategoryIPSecurity      EventCategory = "ip_security"
	CategoryAdministrative  EventCategory = "administrative"
	CategorySystem          EventCategory = "system"
)

// Event types for the security log
const (
	EventTypeLoginSuccess       = "login_success"
	EventTypeLoginFailed        = "login_failed"
	EventTypeLogout             = "logout"
	EventTypeRegistration       = "registration"
	EventTypePasswordReset      = "password_reset"
	EventTypeInputBlocked       = "input_blocked"
	EventTypeInputSuspicious    = "input_suspicious"
	EventTypeRateLimitExceeded  = "rate_limit_exceeded"
	EventTypeRateLimitReset     = "rate_limit_reset"
	EventTypeCSRFIssued         = "csrf_token_issued"
	EventTypeCSRFFailure        = "csrf_validation_failed"
	EventTypeLockoutWarning     = "lockout_warning"
	EventTypeLockoutTriggered   = "lockout_triggered"
	EventTypeLockoutCleared     = "lockout_cleared"
	EventTypeIPThreatRecorded   = "ip_threat_recorded"
	EventTypeIPBlocked          = "ip_blocked"
	EventTypeIPUnblocked        = "ip_unblocked"
	EventTypeAdminAction        = "admin_action"
	EventTypeDegradedMode       = "degraded_mode"
	EventTypeAlertRaised        = "alert_raised"
	EventTypeRetentionPurge     = "retention_purge"
)

// SecurityEvent is the immutable audit record written for every
// security-relevant occurrence. Once logged it is never updated.
type SecurityEvent struct {
	ID          uuid.UUID     `db:"id" json:"event_id"`
	Timestamp   time.Time     `db:"created_at" json:"timestamp"`
	Level       EventLevel    `db:"level" json:"level"`
	Category    EventCategory `db:"category" json:"category"`
	EventType   string        `db:"event_type" json:"type"`
	Message     string        `db:"message" json:"message"`
	SubjectID   *string       `db:"subject_id" json:"subject_id,omitempty"`
	IPAddress   *string       `db:"ip_address" json:"ip,omitempty"`
	SessionID   *string       `db:"session_id" json:"session_id,omitempty"`
	UserAgent   *string       `db:"user_agent" json:"user_agent,omitempty"`
	RequestID   *string       `db:"request_id" json:"request_id,omitempty"`
	ThreatLevel *ThreatLevel  `db:"threat_level" json:"threat_level,omitempty"`
	RiskScore   *float64      `db:"risk_score" json:"risk_score,omitempty"`
	Compliance  []string      `db:"compliance_tags" json:"compliance_tags,omitempty"`
	Metadata    EventMetadata `db:"metadata" json:"metadata,omitempty"`
}

// EventContext carries the request-scoped fields a caller attaches to an
// event. All fields are optional.
type EventContext struct {
	SubjectID   string
	IPAddress   string
	SessionID   string
	UserAgent   string
	RequestID   string
	ThreatLevel ThreatLevel
	RiskScore   float64
	Compliance  []string
	Metadata    EventMetadata
}

// EventFilter selects events for retrieval and export
type EventFilter struct {
	From      time.Time
	To        time.Time
	Level     EventLevel
	Category  EventCategory
	SubjectID string
	IPAddress string
	Limit     int
}

// ExportColumns is the fixed column order for flat (CSV) export
var ExportColumns = []string{
	"event_id", "timestamp", "level", "category", "type",
	"message", "subject_id", "ip", "threat_level", "risk_score",
}

// Alert describes a threshold crossing in the rolling alert window
type Alert struct {
	Level       EventLevel `json:"level"`
	Count       int64      `json:"count"`
	Threshold   int64      `json:"threshold"`
	Window      string     `json:"window"`
	TriggeredAt time.Time  `json:"triggered_at"`
	LastEventID uuid.UUID  `json:"last_event_id"`
	LastMessage string     `json:"last_message"`
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (em *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*em = make(EventMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (em EventMetadata) Value() (driver.Value, error) {
	if em == nil {
		return nil, nil
	}
	return json.Marshal(em)
}
