package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims a listing field, drops control characters other than
// newlines and tabs, and cuts it to at most maxLen bytes on a rune boundary.
// Listing text ends up in owner mails and the admin console.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	cleaned = strings.TrimSpace(cleaned)
	if maxLen <= 0 || len(cleaned) <= maxLen {
		return cleaned
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return cleaned[:cut]
}
