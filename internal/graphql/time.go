package graphql

import (
	"strings"
	"time"
)

var backendTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 and the naive ISO timestamps and dates the
// backend emits. Naive values are read as UTC. Unparseable input gives the
// zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range backendTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ParseTimePtr is ParseTime returning nil for empty or unparseable input.
func ParseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := ParseTime(*s)
	if t.IsZero() {
		return nil
	}
	return &t
}
