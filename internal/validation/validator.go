// Package validation implements pattern-based threat detection and
// sanitization for untrusted field input. Checks are pure functions of the
// input; no store access, safe for concurrent use.
package validation

import (
	"fmt"

	"github.com/bastionsec/bastion/internal/models"
)

// Disposition thresholds on the additive risk score
const (
	blockThreshold      = 80
	suspiciousThreshold = 50
)

// fieldLimit carries the per-field-type maximum length and the weight a
// violation adds to the risk score.
type fieldLimit struct {
	maxLen int
	weight float64
}

var defaultFieldLimits = map[models.FieldType]fieldLimit{
	models.FieldUsername:    {maxLen: 32, weight: 15},
	models.FieldEmail:       {maxLen: 254, weight: 15},
	models.FieldPassword:    {maxLen: 128, weight: 10},
	models.FieldName:        {maxLen: 64, weight: 15},
	models.FieldDescription: {maxLen: 1000, weight: 10},
	models.FieldSearch:      {maxLen: 200, weight: 10},
	models.FieldGeneric:     {maxLen: 256, weight: 10},
}

// Validator applies the threat pattern battery and field-type rules.
// The zero configuration from NewValidator suits all callers; limits are
// injectable for tests.
type Validator struct {
	limits map[models.FieldType]fieldLimit
}

func NewValidator() *Validator {
	return &Validator{limits: defaultFieldLimits}
}

// Validate analyzes a single field value. The returned analysis always
// carries a sanitized representation, including for rejected input, so
// callers can log the value safely.
func (v *Validator) Validate(value string, fieldType models.FieldType) models.ValidationAnalysis {
	limit, ok := v.limits[fieldType]
	if !ok {
		limit = v.limits[models.FieldGeneric]
		fieldType = models.FieldGeneric
	}

	var (
		score   float64
		threats []string
		seen    = map[string]bool{}
	)

	for _, p := range threatPatterns {
		// Multi-line field types legitimately contain line breaks.
		if p.category == models.ThreatHeaderInjection && fieldType == models.FieldDescription {
			continue
		}
		if p.re.MatchString(value) {
			score += p.weight
			if !seen[p.category] {
				seen[p.category] = true
				threats = append(threats, p.category)
			}
		}
	}

	if len(value) > limit.maxLen {
		score += limit.weight
		threats = append(threats, models.ThreatLengthViolation)
	}

	if score > 100 {
		score = 100
	}

	analysis := models.ValidationAnalysis{
		FieldType: fieldType,
		Threats:   threats,
		Sanitized: Sanitize(value, fieldType, limit.maxLen),
		RiskScore: score,
	}

	switch {
	case score >= blockThreshold:
		analysis.Result = models.ValidationBlocked
		analysis.Message = "input rejected by security policy"
	case score >= suspiciousThreshold || len(threats) > 0:
		analysis.Result = models.ValidationSuspicious
		analysis.Message = fmt.Sprintf("input flagged for review (%d pattern match(es))", len(threats))
	default:
		analysis.Valid = true
		analysis.Result = models.ValidationValid
		analysis.Message = "input accepted"
	}

	return analysis
}
