package store

import "fmt"

// Key builders for the store namespace. Centralized so every component
// writes and sweeps the same layout.
const (
	rateLimitPrefix      = "rl"
	lockoutPrefix        = "lock"
	failurePrefix        = "fail"
	lockoutHistoryPrefix = "lockhist"
	csrfPrefix           = "csrf"
	threatEventsPrefix   = "ipev"
	blockPrefix          = "ipblock"
	blockHistoryPrefix   = "blockhist"
	alertCountPrefix     = "alertct"
	recentEventsPrefix   = "seclog:recent"
)

// RateLimitKey addresses one tier's counter for one identifier
func RateLimitKey(tier, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", rateLimitPrefix, tier, identifier)
}

// LockoutKey addresses a subject's active lockout record
func LockoutKey(subjectID string) string {
	return fmt.Sprintf("%s:%s", lockoutPrefix, subjectID)
}

// FailureKey addresses a subject's windowed failure counter
func FailureKey(subjectID string) string {
	return fmt.Sprintf("%s:%s", failurePrefix, subjectID)
}

// LockoutHistoryKey addresses a subject's prior-lockout escalation counter
func LockoutHistoryKey(subjectID string) string {
	return fmt.Sprintf("%s:%s", lockoutHistoryPrefix, subjectID)
}

// CSRFKey addresses the server-side record of an issued token
func CSRFKey(token string) string {
	return fmt.Sprintf("%s:%s", csrfPrefix, token)
}

// ThreatEventsKey addresses an IP's windowed threat event log
func ThreatEventsKey(ip string) string {
	return fmt.Sprintf("%s:%s", threatEventsPrefix, ip)
}

// BlockKey addresses an IP's active block record
func BlockKey(ip string) string {
	return fmt.Sprintf("%s:%s", blockPrefix, ip)
}

// BlockHistoryKey addresses an IP's prior-block escalation counter
func BlockHistoryKey(ip string) string {
	return fmt.Sprintf("%s:%s", blockHistoryPrefix, ip)
}

// AlertCountKey addresses the rolling alert counter for one event level
func AlertCountKey(level string) string {
	return fmt.Sprintf("%s:%s", alertCountPrefix, level)
}

// RecentEventsKey addresses the fast recent-event index for one level
func RecentEventsKey(level string) string {
	return fmt.Sprintf("%s:%s", recentEventsPrefix, level)
}
