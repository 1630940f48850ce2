package services

import (
	"regexp"
	"strings"
)

// secretPatterns detect literal secret material. A match forces a
// message to SENSITIVE without asking the model.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-----BEGIN (?:OPENSSH |RSA |DSA |EC |PGP |ENCRYPTED |)PRIVATE KEY(?: BLOCK)?-----`),
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-_.~+/]{16,}=*`),
	regexp.MustCompile(`(?i)access_token[\s=:]+[\w\-.]+\.[\w\-.]+\.[\w\-]+`),
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|api_secret|secret_key|client_secret|auth[_-]?token)\s*[=:]\s*["']?[\w\-~./+=]{8,}`),
	regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[=:]\s*\S{4,}`),
	regexp.MustCompile(`(?i)\b(?:license|product|activation)\s+key[\s:]+[A-Z0-9]{4,}(?:-[A-Z0-9]{4,})+`),
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}\b`),
	regexp.MustCompile(`\bsk_live_[A-Za-z0-9]{16,}\b`),
}

// cardPattern finds candidate payment card numbers; candidates must also
// pass the Luhn check.
var cardPattern = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// displayRedactions scrub secrets from text shown outside the core.
// Order matters: more specific patterns first.
var displayRedactions = []redaction{
	{regexp.MustCompile(`(?i)-----BEGIN (?:OPENSSH |RSA |DSA |EC |)PRIVATE KEY-----[\s\S]*?-----END (?:OPENSSH |RSA |DSA |EC |)PRIVATE KEY-----`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)access_token[\s=:]+[\w\-.]+\.[\w\-.]+\.[\w\-]+`), "access_token=[REDACTED]"},
	{regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api_secret|secret_key|auth[_-]?token)[\s=:]+[\w\-~./+=]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(?:password|passwd|pwd|token)[\s=:]+\S+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)\b[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}(?:-[A-Z0-9]{4})*\b`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)\b[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}(?:-[A-Z0-9]{5})*\b`), "[REDACTED]"},
	{regexp.MustCompile(`\b[A-Fa-f0-9]{32,}\b`), "[REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9+/]{20,}={0,2}\b`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(?:license\s+key|product\s+key|serial\s+number|activation\s+key)[\s:]+[\w\-]+`), "[REDACTED]"},
}

// ContainsSecret reports whether text carries literal secret material.
func ContainsSecret(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	for _, candidate := range cardPattern.FindAllString(text, -1) {
		if luhnValid(candidate) {
			return true
		}
	}
	return false
}

// RedactSecrets replaces secret-looking substrings with [REDACTED].
func RedactSecrets(text string) string {
	for _, r := range displayRedactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
