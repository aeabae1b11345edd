package validation_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/validation"
)

func TestValidatorValidate_CleanEmailPasses(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("user@example.com", models.FieldEmail)

	assert.True(t, analysis.Valid)
	assert.Equal(t, models.ValidationValid, analysis.Result)
	assert.Empty(t, analysis.Threats)
	assert.Equal(t, float64(0), analysis.RiskScore)
	assert.Equal(t, "user@example.com", analysis.Sanitized)
}

func TestValidatorValidate_CleanUsernamePasses(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("jdoe_92", models.FieldUsername)

	assert.True(t, analysis.Valid)
	assert.Equal(t, "jdoe_92", analysis.Sanitized)
}

func TestValidatorValidate_SQLInjectionBlocked(t *testing.T) {
	v := validation.NewValidator()
	payload := `'; DROP TABLE users; --`

	for _, ft := range []models.FieldType{
		models.FieldUsername, models.FieldEmail, models.FieldSearch, models.FieldGeneric,
	} {
		analysis := v.Validate(payload, ft)

		assert.False(t, analysis.Valid, "field type %s", ft)
		assert.Equal(t, models.ValidationBlocked, analysis.Result, "field type %s", ft)
		assert.Contains(t, analysis.Threats, models.ThreatSQLInjection)
		assert.GreaterOrEqual(t, analysis.RiskScore, float64(80))
	}
}

func TestValidatorValidate_XSSPayloadBlocked(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate(`<script>alert('xss')</script>`, models.FieldDescription)

	assert.False(t, analysis.Valid)
	assert.Equal(t, models.ValidationBlocked, analysis.Result)
	assert.Contains(t, analysis.Threats, models.ThreatXSS)
	assert.GreaterOrEqual(t, analysis.RiskScore, float64(80))
	assert.NotContains(t, analysis.Sanitized, "<script")
}

func TestValidatorValidate_SingleThreatIsSuspicious(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("javascript:void(0)", models.FieldSearch)

	assert.False(t, analysis.Valid)
	assert.Equal(t, models.ValidationSuspicious, analysis.Result)
	assert.Contains(t, analysis.Threats, models.ThreatXSS)
}

func TestValidatorValidate_PathTraversalDetected(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("../../etc/passwd", models.FieldGeneric)

	assert.False(t, analysis.Valid)
	assert.Contains(t, analysis.Threats, models.ThreatPathTraversal)
	assert.GreaterOrEqual(t, analysis.RiskScore, float64(50))
}

func TestValidatorValidate_CommandInjectionDetected(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("name; cat /etc/passwd", models.FieldGeneric)

	assert.False(t, analysis.Valid)
	assert.Contains(t, analysis.Threats, models.ThreatCommandInjection)
}

func TestValidatorValidate_LDAPInjectionDetected(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("*)(uid=*", models.FieldUsername)

	assert.False(t, analysis.Valid)
	assert.Contains(t, analysis.Threats, models.ThreatLDAPInjection)
}

func TestValidatorValidate_HeaderInjectionInSingleLineField(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("value\r\nSet-Cookie: session=evil", models.FieldUsername)

	assert.False(t, analysis.Valid)
	assert.Contains(t, analysis.Threats, models.ThreatHeaderInjection)
}

func TestValidatorValidate_DescriptionAllowsNewlines(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("first line\nsecond line", models.FieldDescription)

	assert.True(t, analysis.Valid)
	assert.NotContains(t, analysis.Threats, models.ThreatHeaderInjection)
}

func TestValidatorValidate_LengthViolation(t *testing.T) {
	v := validation.NewValidator()
	long := strings.Repeat("a", 40)

	analysis := v.Validate(long, models.FieldUsername)

	assert.False(t, analysis.Valid)
	assert.Contains(t, analysis.Threats, models.ThreatLengthViolation)
	assert.LessOrEqual(t, len(analysis.Sanitized), 32)
}

func TestSanitize_TruncatesOnRuneBoundary(t *testing.T) {
	// 20 two-byte runes; a 33-byte limit lands mid-rune and must back off.
	value := strings.Repeat("é", 20)

	sanitized := validation.Sanitize(value, models.FieldName, 33)

	assert.True(t, utf8.ValidString(sanitized), "truncation must not split a rune")
	assert.Equal(t, 32, len(sanitized))
	assert.Equal(t, strings.Repeat("é", 16), sanitized)
}

func TestValidatorValidate_SanitizedReturnedForRejectedInput(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate(`'; DROP TABLE users; --`, models.FieldGeneric)

	assert.Equal(t, models.ValidationBlocked, analysis.Result)
	assert.NotEmpty(t, analysis.Sanitized)
	assert.NotContains(t, analysis.Sanitized, "'")
}

func TestValidatorValidate_PasswordSanitizesToRedaction(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("Sup3rS3cret!Pass", models.FieldPassword)

	assert.Equal(t, validation.RedactedValue, analysis.Sanitized)
}

func TestValidatorValidate_RiskScoreCappedAt100(t *testing.T) {
	v := validation.NewValidator()
	payload := `'; DROP TABLE users; -- <script>alert(1)</script> ../../etc/passwd`

	analysis := v.Validate(payload, models.FieldGeneric)

	assert.Equal(t, float64(100), analysis.RiskScore)
	assert.Equal(t, models.ValidationBlocked, analysis.Result)
}

func TestValidatorValidate_UnknownFieldTypeFallsBackToGeneric(t *testing.T) {
	v := validation.NewValidator()

	analysis := v.Validate("hello", models.FieldType("mystery"))

	assert.True(t, analysis.Valid)
	assert.Equal(t, models.FieldGeneric, analysis.FieldType)
}

func TestScorePassword_WeakShortPassword(t *testing.T) {
	v := validation.NewValidator()

	strength := v.ScorePassword("aaa")

	assert.Equal(t, "weak", strength.Label)
	assert.Less(t, strength.Score, 40)
	assert.True(t, strength.HasLower)
	assert.False(t, strength.HasUpper)
}

func TestScorePassword_StrongDiversePassword(t *testing.T) {
	v := validation.NewValidator()

	strength := v.ScorePassword("Sup3rS3cret!Pass")

	assert.Equal(t, "strong", strength.Label)
	assert.GreaterOrEqual(t, strength.Score, 80)
	assert.True(t, strength.HasLower)
	assert.True(t, strength.HasUpper)
	assert.True(t, strength.HasDigit)
	assert.True(t, strength.HasSymbol)
}

func TestScorePassword_EmptyPassword(t *testing.T) {
	v := validation.NewValidator()

	strength := v.ScorePassword("")

	assert.Equal(t, 0, strength.Score)
	assert.Equal(t, "weak", strength.Label)
}

func TestScorePassword_RepetitionLowersUniqueness(t *testing.T) {
	v := validation.NewValidator()

	repeated := v.ScorePassword("Abababababab1!")
	diverse := v.ScorePassword("Kx9#mQz2&vLp7!")

	assert.Less(t, repeated.UniquenessRate, diverse.UniquenessRate)
	assert.Less(t, repeated.Score, diverse.Score)
}
