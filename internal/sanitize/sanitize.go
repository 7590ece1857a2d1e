// Package sanitize cleans tract identifiers that arrive from data files and
// MCP clients before they are echoed into logs, errors or rendered output.
package sanitize

import "strings"

// MaxTractIDLength bounds a tract identifier. Census GEOIDs are 11 digits.
const MaxTractIDLength = 64

// TractID keeps only [a-zA-Z0-9._-] and truncates to MaxTractIDLength.
func TractID(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	if len(s) > MaxTractIDLength {
		s = s[:MaxTractIDLength]
	}
	return s
}

// ValidTractID reports whether id is non-empty and already clean.
func ValidTractID(id string) bool {
	return id != "" && TractID(id) == id
}
