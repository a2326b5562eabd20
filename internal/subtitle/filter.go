// Package subtitle turns the inbound coach text stream into a caption bar and
// a short-lived bubble queue.
package subtitle

import (
	"strings"
	"unicode/utf8"
)

const boldMarker = "**"

// IsThinking reports whether text is an upstream reasoning token that must
// not be shown: a bold-wrapped heading such as "**Assessing pose**", or
// fewer than two characters once trimmed.
func IsThinking(text string) bool {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < 2 {
		return true
	}
	if rest, ok := strings.CutPrefix(t, boldMarker); ok {
		return strings.Contains(rest, boldMarker)
	}
	return false
}
