package validation

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bastionsec/bastion/internal/models"
)

// RedactedValue replaces password input in any logged or echoed form.
// A sanitized password has no legitimate use downstream.
const RedactedValue = "[REDACTED]"

// Sanitize produces a safe representation of value for the given field
// type, truncated to maxLen. Control characters are stripped universally;
// identifier fields are reduced to a character whitelist and free-text
// fields are HTML-escaped.
func Sanitize(value string, fieldType models.FieldType, maxLen int) string {
	if fieldType == models.FieldPassword {
		return RedactedValue
	}

	keepNewlines := fieldType == models.FieldDescription
	cleaned := stripControl(value, keepNewlines)

	switch fieldType {
	case models.FieldUsername:
		cleaned = whitelist(cleaned, func(r rune) bool {
			return r == '.' || r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		})
	case models.FieldEmail:
		cleaned = whitelist(cleaned, func(r rune) bool {
			return r == '.' || r == '@' || r == '+' || r == '_' || r == '%' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		})
	case models.FieldName:
		cleaned = whitelist(cleaned, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r) ||
				r == ' ' || r == '\'' || r == '-' || r == '.'
		})
	default:
		cleaned = html.EscapeString(cleaned)
	}

	cleaned = strings.TrimSpace(cleaned)
	if maxLen > 0 && len(cleaned) > maxLen {
		// Back the cut off to a rune boundary so a multi-byte character
		// at the limit is dropped whole, never split into invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}

func stripControl(s string, keepNewlines bool) string {
	return strings.Map(func(r rune) rune {
		if keepNewlines && (r == '\n' || r == '\t') {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func whitelist(s string, allowed func(rune) bool) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return -1
	}, s)
}
