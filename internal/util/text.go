package util

import "strings"

// NormalizeDisplayName trims the name and collapses runs of whitespace into
// single spaces.
func NormalizeDisplayName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ")
}

// ItemKey derives the case- and whitespace-insensitive identity token for a
// display name. Standings rows for "Whiskers" and " whiskers " must collide.
func ItemKey(name string) string {
	return strings.ToLower(NormalizeDisplayName(name))
}

// TruncateRunes shortens text to at most max runes, appending an ellipsis when
// anything was cut.
func TruncateRunes(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
