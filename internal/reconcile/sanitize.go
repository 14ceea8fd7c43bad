package reconcile

import (
	"regexp"
	"strings"
)

const maxComponentLen = 200

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_.\-]`)

// SanitizeComponent makes value safe to use as a single path component.
// Separators and anything outside letters, digits, '_', '.' and '-' become
// '_'. Leading and trailing '.' and '_' are stripped so that "..", "." and
// hidden names cannot occur. An empty result falls back to def.
func SanitizeComponent(value, def string) string {
	s := strings.TrimSpace(value)
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if r := []rune(s); len(r) > maxComponentLen {
		s = strings.TrimRight(string(r[:maxComponentLen]), "._")
	}
	if s == "" {
		return def
	}
	return s
}
