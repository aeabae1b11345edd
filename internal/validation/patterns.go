package validation

import (
	"regexp"

	"github.com/bastionsec/bastion/internal/models"
)

// threatPattern pairs a compiled signature with the category it reports and
// the additive weight a match contributes to the risk score. Multiple
// matching patterns stack, within and across categories.
type threatPattern struct {
	category string
	weight   float64
	re       *regexp.Regexp
}

// Risk weights per pattern match
const (
	weightSQLInjection     = 50
	weightXSS              = 40
	weightCommandInjection = 35
	weightPathTraversal    = 30
	weightLDAPInjection    = 25
	weightHeaderInjection  = 25
)

// The pattern battery is compiled once at package load. Patterns favor
// precision over recall: a benign email or username must never match.
var threatPatterns = []threatPattern{
	// SQL injection
	{category: models.ThreatSQLInjection, weight: weightSQLInjection,
		re: regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+.+\s+from|insert\s+into|update\s+\w+\s+set|delete\s+from|drop\s+(table|database|index)|truncate\s+table|exec(ute)?\s+|xp_cmdshell)\b`)},
	{category: models.ThreatSQLInjection, weight: weightSQLInjection,
		re: regexp.MustCompile(`(?i)('|")\s*(or|and)\s+[^=]*(=|like|>|<)`)},
	{category: models.ThreatSQLInjection, weight: weightSQLInjection,
		re: regexp.MustCompile(`(?i);\s*(drop|delete|update|insert|alter|create|truncate)\b`)},
	{category: models.ThreatSQLInjection, weight: weightSQLInjection,
		re: regexp.MustCompile(`(--\s*$|/\*.*\*/|'\s*;)`)},

	// Cross-site scripting
	{category: models.ThreatXSS, weight: weightXSS,
		re: regexp.MustCompile(`(?i)<\s*script[^>]*>`)},
	{category: models.ThreatXSS, weight: weightXSS,
		re: regexp.MustCompile(`(?i)javascript\s*:`)},
	{category: models.ThreatXSS, weight: weightXSS,
		re: regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|blur|submit)\s*=`)},
	{category: models.ThreatXSS, weight: weightXSS,
		re: regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg)[^>]*>`)},
	{category: models.ThreatXSS, weight: weightXSS,
		re: regexp.MustCompile(`(?i)\b(alert|prompt|confirm|document\.cookie|window\.location)\s*\(`)},

	// Command injection
	{category: models.ThreatCommandInjection, weight: weightCommandInjection,
		re: regexp.MustCompile("(?i)[;&|`]\\s*(cat|ls|rm|cp|mv|wget|curl|nc|netcat|bash|sh|zsh|cmd|powershell|ping|whoami|id|uname)\\b")},
	{category: models.ThreatCommandInjection, weight: weightCommandInjection,
		re: regexp.MustCompile(`\$\([^)]*\)`)},
	{category: models.ThreatCommandInjection, weight: weightCommandInjection,
		re: regexp.MustCompile("`[^`]+`")},
	{category: models.ThreatCommandInjection, weight: weightCommandInjection,
		re: regexp.MustCompile(`(?i)(^|[^\w/])(/bin/(ba|z)?sh|/usr/bin/env)\b`)},

	// Path traversal
	{category: models.ThreatPathTraversal, weight: weightPathTraversal,
		re: regexp.MustCompile(`\.\.[/\\]`)},
	{category: models.ThreatPathTraversal, weight: weightPathTraversal,
		re: regexp.MustCompile(`(?i)(%2e%2e|%252e|%c0%ae)`)},
	{category: models.ThreatPathTraversal, weight: weightPathTraversal,
		re: regexp.MustCompile(`(?i)/etc/(passwd|shadow|hosts)\b`)},

	// LDAP injection
	{category: models.ThreatLDAPInjection, weight: weightLDAPInjection,
		re: regexp.MustCompile(`\*\)\s*\(`)},
	{category: models.ThreatLDAPInjection, weight: weightLDAPInjection,
		re: regexp.MustCompile(`\)\s*\(\s*[\w]+\s*=`)},
	{category: models.ThreatLDAPInjection, weight: weightLDAPInjection,
		re: regexp.MustCompile(`\(\s*[|&]\s*\(`)},

	// Header / CRLF injection
	{category: models.ThreatHeaderInjection, weight: weightHeaderInjection,
		re: regexp.MustCompile(`[\r\n]`)},
	{category: models.ThreatHeaderInjection, weight: weightHeaderInjection,
		re: regexp.MustCompile(`(?i)(%0d|%0a)`)},
}
