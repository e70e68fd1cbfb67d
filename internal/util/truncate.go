package util

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultLogMaxLen caps raw upstream lines written to debug logs.
const DefaultLogMaxLen = 200

// DefaultExcerptLen caps upstream error bodies that are shown to clients.
const DefaultExcerptLen = 200

// TruncateLog truncates long strings for debug logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return truncateRunes(s, maxLen) + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for byte slices using DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// Excerpt collapses whitespace and cuts s to at most maxLen bytes on a rune
// boundary, appending "..." when something was dropped. Used for error bodies
// that end up in client-visible messages.
func Excerpt(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return truncateRunes(s, maxLen) + "..."
}

// truncateRunes cuts s to at most maxLen bytes without splitting a rune.
func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
