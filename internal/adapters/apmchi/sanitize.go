package apmchi

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const redacted = "[REDACTED]"

// sanitizer redacts values of fields whose names match one of the
// configured glob patterns, ignoring case.
type sanitizer struct {
	patterns []string
}

func newSanitizer(patterns []string) sanitizer {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		lowered = append(lowered, strings.ToLower(p))
	}
	return sanitizer{patterns: lowered}
}

func (s sanitizer) value(name, value string) string {
	if s.matches(name) {
		return redacted
	}
	return value
}

func (s sanitizer) matches(name string) bool {
	name = strings.ToLower(name)
	for _, p := range s.patterns {
		// Patterns are validated when the config is loaded.
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
