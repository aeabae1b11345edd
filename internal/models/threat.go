package models

import "time"

// ThreatLevel classifies a risk score into a step function. Scores between
// the High band and the Critical floor remain High.
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// ThreatLevelForScore maps a bounded risk score (0-100) to its level
func ThreatLevelForScore(score float64) ThreatLevel {
	switch {
	case score >= 85:
		return ThreatLevelCritical
	case score >= 30:
		return ThreatLevelHigh
	case score >= 10:
		return ThreatLevelMedium
	default:
		return ThreatLevelLow
	}
}

// Typed per-IP threat events ingested by the IP threat monitor
type ThreatEventType string

const (
	ThreatEventFailedLogin        ThreatEventType = "failed_login"
	ThreatEventRateLimitViolation ThreatEventType = "rate_limit_violation"
	ThreatEventSuspiciousPattern  ThreatEventType = "suspicious_pattern"
	ThreatEventBruteForce         ThreatEventType = "brute_force_attempt"
	ThreatEventAccountEnumeration ThreatEventType = "account_enumeration"
	ThreatEventRapidRequests      ThreatEventType = "rapid_requests"
	ThreatEventGeoAnomaly         ThreatEventType = "geo_anomaly"
	ThreatEventUserAgentAnomaly   ThreatEventType = "user_agent_anomaly"
)

// IPThreatAnalysis is the derived view of one IP's windowed event log
type IPThreatAnalysis struct {
	IPAddress   string                    `json:"ip_address"`
	RiskScore   float64                   `json:"risk_score"`
	ThreatLevel ThreatLevel               `json:"threat_level"`
	EventCounts map[ThreatEventType]int64 `json:"event_counts"`
	TotalEvents int64                     `json:"total_events"`
	// DistinctTypes drives the multi-vector escalation multiplier.
	DistinctTypes   int        `json:"distinct_types"`
	WindowStart     time.Time  `json:"window_start"`
	Blocked         bool       `json:"blocked"`
	BlockExpiresAt  *time.Time `json:"block_expires_at,omitempty"`
	// Degraded marks an analysis produced while the store was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// BlockRecord is the stored representation of an active IP block
type BlockRecord struct {
	IPAddress    string    `json:"ip_address"`
	Reason       string    `json:"reason"`
	RiskScore    float64   `json:"risk_score"`
	StartedAt    time.Time `json:"started_at"`
	DurationSecs int64     `json:"duration_seconds"`
	ExpiresAt    time.Time `json:"expires_at"`
	// PriorBlocks is the escalation index that selected this block's
	// duration.
	PriorBlocks int64 `json:"prior_blocks"`
	// Automatic distinguishes monitor-initiated blocks from manual ones.
	Automatic bool `json:"automatic"`
}
