package extractor

import (
	"regexp"
	"strings"
)

var titlePattern = regexp.MustCompile(`(?i)^(dr|mr|mrs|ms|prof)\.?\s+`)

// CanonicalName normalizes a display name for identity matching: strips a
// leading title, lowercases, trims, and collapses internal whitespace.
func CanonicalName(name string) string {
	name = titlePattern.ReplaceAllString(strings.TrimSpace(name), "")
	name = strings.ToLower(strings.TrimSpace(name))
	fields := strings.Fields(name)
	return strings.Join(fields, " ")
}
