package result

import "unicode/utf8"

// MaxCapturedRunes bounds captured text kept on a TestCaseResult.
const MaxCapturedRunes = 500

const truncationMarker = "..."

// Truncate keeps the first limit runes of s and appends "..." when something was cut.
// Invalid UTF-8 is replaced rune by rune.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit && utf8.ValidString(s) {
		return s
	}
	out := make([]rune, 0, limit)
	for _, r := range s {
		if len(out) == limit {
			return string(out) + truncationMarker
		}
		out = append(out, r)
	}
	return string(out)
}

// Capture truncates program output to MaxCapturedRunes.
func Capture(b []byte) string {
	return Truncate(string(b), MaxCapturedRunes)
}
