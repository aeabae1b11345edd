package models

// Validation dispositions for a single field check
type ValidationResult string

const (
	ValidationValid ValidationResult = "valid"
	// ValidationSuspicious is invalid for gating purposes but distinguished
	// from a hard block for UX messaging.
	ValidationSuspicious ValidationResult = "suspicious"
	ValidationBlocked    ValidationResult = "blocked"
)

// Threat categories reported by the input validator
const (
	ThreatSQLInjection     = "SQL_INJECTION"
	ThreatXSS              = "XSS"
	ThreatCommandInjection = "COMMAND_INJECTION"
	ThreatPathTraversal    = "PATH_TRAVERSAL"
	ThreatLDAPInjection    = "LDAP_INJECTION"
	ThreatHeaderInjection  = "HEADER_INJECTION"
	ThreatLengthViolation  = "LENGTH_VIOLATION"
)

// Field types carry their own length limits and sanitization rules
type FieldType string

const (
	FieldUsername    FieldType = "username"
	FieldEmail       FieldType = "email"
	FieldPassword    FieldType = "password"
	FieldName        FieldType = "name"
	FieldDescription FieldType = "description"
	FieldSearch      FieldType = "search"
	FieldGeneric     FieldType = "generic"
)

// ValidationAnalysis is the full outcome of a field check. Sanitized is
// always populated, including for rejected input, so callers can log a
// safe representation.
type ValidationAnalysis struct {
	Valid     bool             `json:"valid"`
	Result    ValidationResult `json:"result"`
	FieldType FieldType        `json:"field_type"`
	Threats   []string         `json:"threats,omitempty"`
	Sanitized string           `json:"sanitized"`
	RiskScore float64          `json:"risk_score"`
	Message   string           `json:"message"`
}

// PasswordStrength scores composition quality independent of threat checks
type PasswordStrength struct {
	Score int    `json:"score"`
	Label string `json:"label"`
	// Component booleans explain the score without echoing the password.
	HasLower       bool    `json:"has_lower"`
	HasUpper       bool    `json:"has_upper"`
	HasDigit       bool    `json:"has_digit"`
	HasSymbol      bool    `json:"has_symbol"`
	Length         int     `json:"length"`
	UniquenessRate float64 `json:"uniqueness_rate"`
}
