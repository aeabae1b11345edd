package models

// Denial reasons resolved at the request guard boundary
type GuardReason string

const (
	GuardAllowed          GuardReason = ""
	GuardDeniedInput      GuardReason = "input_rejected"
	GuardDeniedRateLimit  GuardReason = "rate_limit_exceeded"
	GuardDeniedLocked     GuardReason = "account_locked"
	GuardDeniedCSRF       GuardReason = "csrf_validation_failed"
	GuardDeniedIPBlocked  GuardReason = "ip_blocked"
	GuardDeniedUnavailable GuardReason = "security_check_unavailable"
)

// GuardDecision is the single allow/deny outcome of the per-request check
// sequence. Exactly one detail field is set for a denial, matching Reason.
type GuardDecision struct {
	Allowed bool        `json:"allowed"`
	Reason  GuardReason `json:"reason,omitempty"`

	Validation  *ValidationAnalysis    `json:"validation,omitempty"`
	RateLimit   *RateLimitResult       `json:"rate_limit,omitempty"`
	Account     *AccountSecurityResult `json:"account,omitempty"`
	CSRF        *CSRFValidationResult  `json:"csrf,omitempty"`
	Block       *BlockRecord           `json:"block,omitempty"`
}
