package models

// Rate limit tiers, checked in fixed order by the request guard
type RateLimitTier string

const (
	TierGlobal   RateLimitTier = "global"
	TierIP       RateLimitTier = "ip"
	TierAccount  RateLimitTier = "account"
	TierEndpoint RateLimitTier = "endpoint"
)

// RateLimitResult reports the outcome of a single tier check. A denied
// result means the counter was already at its maximum; denied checks never
// consume quota.
type RateLimitResult struct {
	Allowed        bool          `json:"allowed"`
	Tier           RateLimitTier `json:"tier"`
	Identifier     string        `json:"identifier"`
	Current        int64         `json:"current"`
	Max            int64         `json:"max"`
	Remaining      int64         `json:"remaining"`
	SecondsToReset int64         `json:"seconds_to_reset"`
	// Degraded marks a fail-open decision taken while the store was
	// unreachable.
	Degraded bool `json:"degraded,omitempty"`
}
