package apmchi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fllarpy/apm-chi/pkg/config"
)

func TestSanitizer(t *testing.T) {
	s := newSanitizer(config.DefaultSanitizeFieldNames)

	testCases := []struct {
		name     string
		redacted bool
	}{
		{"Authorization", true},
		{"Cookie", true},
		{"Set-Cookie", true},
		{"X-Api-Key", true},
		{"X-Auth-Token", true},
		{"sessionid", true},
		{"PASSWORD", true},
		{"Accept", false},
		{"Content-Type", false},
		{"X-Multi", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.value(tc.name, "value")
			if tc.redacted {
				assert.Equal(t, redacted, got)
			} else {
				assert.Equal(t, "value", got)
			}
		})
	}

	assert.Equal(t, "value", newSanitizer(nil).value("Authorization", "value"), "no patterns means nothing is redacted")
}
