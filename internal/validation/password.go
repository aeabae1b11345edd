package validation

import (
	"unicode"

	"github.com/bastionsec/bastion/internal/models"
)

// Strength-score component maxima
const (
	lengthPoints     = 30
	classPoints      = 10 // per character class, four classes
	uniquenessPoints = 30
	lengthTarget     = 20 // characters at which length earns full points
)

// ScorePassword rates composition strength on a 0-100 scale, independent
// of the threat pattern checks. The score reflects length, character-class
// diversity, and the ratio of distinct characters; the password itself is
// never stored or echoed.
func (v *Validator) ScorePassword(password string) models.PasswordStrength {
	runes := []rune(password)
	strength := models.PasswordStrength{Length: len(runes)}

	if len(runes) == 0 {
		strength.Label = "weak"
		return strength
	}

	distinct := make(map[rune]bool, len(runes))
	for _, r := range runes {
		distinct[r] = true
		switch {
		case unicode.IsLower(r):
			strength.HasLower = true
		case unicode.IsUpper(r):
			strength.HasUpper = true
		case unicode.IsDigit(r):
			strength.HasDigit = true
		default:
			strength.HasSymbol = true
		}
	}
	strength.UniquenessRate = float64(len(distinct)) / float64(len(runes))

	lengthScore := float64(len(runes)) / lengthTarget * lengthPoints
	if lengthScore > lengthPoints {
		lengthScore = lengthPoints
	}

	classScore := 0
	for _, has := range []bool{strength.HasLower, strength.HasUpper, strength.HasDigit, strength.HasSymbol} {
		if has {
			classScore += classPoints
		}
	}

	score := int(lengthScore) + classScore + int(strength.UniquenessRate*uniquenessPoints)
	if score > 100 {
		score = 100
	}
	strength.Score = score

	switch {
	case score >= 80:
		strength.Label = "strong"
	case score >= 60:
		strength.Label = "good"
	case score >= 40:
		strength.Label = "fair"
	default:
		strength.Label = "weak"
	}

	return strength
}
