package services

import (
	"regexp"
	"strings"
	"unicode"
)

const trackingKeywords = `track(?:ing)?|open(?:ed)?|pixel|beacon|unsub(?:scribe)?|` +
	`redirect|click|mail(?:track|open)|read.?receipt|` +
	`analytics|trace|log\.(?:open|click)|notify\.(?:open|click)`

var (
	trackingURLPattern = regexp.MustCompile(`(?i)https?://[^\s<>"']*(?:` + trackingKeywords + `)[^\s<>"']*`)

	quotePattern = alternation(
		`\n\s*On\s+.+?\s+wrote\s*:\s*\n`,
		`\n\s*_{2,}\s*\n\s*From:\s+`,
		`\n-{3,}\s*Original Message\s*-{3,}\s*\n`,
		`\n\s*On\s+\d{1,2}/\d{1,2}/\d{2,4}.+?\n`,
		`\n\s*-{10}\s+Forwarded message\s+-{10}\s*\n`,
		`\n\s*Begin forwarded message\s*:.*`,
	)

	signaturePattern = alternation(
		`\n\s*Sent from my (?:iPhone|iPad|Android|Samsung|Galaxy|Pixel)\b.*`,
		`\n\s*Get Outlook for\s+.*`,
		`\n\s*Sent from (?:Mail|Gmail)?\s+for (?:iOS|Android)\s*.*`,
		`\n\s*--\s*\n`,
		`\n\s*_{5,}\s*$`,
		`\n\s*-\s{0,2}$`,
	)

	disclaimerPattern = alternation(
		`\n\s*(?:This\s+)?(?:e-?mail|message|communication)\s+(?:is\s+)?(?:confidential|intended only).*`,
		`\n\s*Disclaimer\s*:.*`,
		`\n\s*CONFIDENTIALITY\s+NOTICE\s*:.*`,
		`\n\s*If you (?:received|have received) this (?:e-?mail|message) in error.*`,
		`\n\s*Please consider the environment before printing.*`,
		`\n\s*\[?PRIVACY\]?.*`,
	)
)

// zeroWidth lists format characters used for tracking and fingerprinting.
const zeroWidth = "\u200b\u200c\u200d\u200e\u200f\u202a\u202b\u202c\u202d\u202e\u2060\u2061\u2062\u2063\ufeff"

func alternation(patterns ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)(?:` + strings.Join(patterns, `|`) + `)`)
}

// PreprocessBody cleans a body before classification and embedding.
// It strips invisible characters, replaces tracking links with [LINK] and
// cuts quoted replies, signatures and legal disclaimers.
func PreprocessBody(body string) string {
	text := strings.TrimSpace(body)
	if text == "" {
		return ""
	}
	text = StripInvisible(text)
	text = StripTrackingURLs(text)
	text = StripQuotedReplies(text)
	text = StripSignatures(text)
	return strings.TrimSpace(text)
}

// StripInvisible removes control, format, private use and unassigned
// characters, keeping ordinary whitespace.
func StripInvisible(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return r
		}
		if strings.ContainsRune(zeroWidth, r) {
			return -1
		}
		if unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co) {
			return -1
		}
		if !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z, unicode.C) {
			return -1
		}
		return r
	}, text)
}

// StripTrackingURLs replaces links that look like open or click trackers.
func StripTrackingURLs(text string) string {
	return trackingURLPattern.ReplaceAllString(text, "[LINK]")
}

// StripQuotedReplies cuts the body at the first quoted-reply boundary.
func StripQuotedReplies(text string) string {
	return cutAtFirst(text, quotePattern)
}

// StripSignatures cuts signatures, then disclaimers.
func StripSignatures(text string) string {
	text = cutAtFirst(text, signaturePattern)
	text = cutAtFirst(text, disclaimerPattern)
	return strings.TrimSpace(text)
}

func cutAtFirst(text string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimRightFunc(text[:loc[0]], unicode.IsSpace)
}
