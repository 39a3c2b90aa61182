package utils

import (
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugCollapse = regexp.MustCompile(`-+`)
)

const slugAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Slugify generates a URL-safe slug from a post title and appends a short
// random suffix for guaranteed uniqueness.
// e.g. "Hello World!" => "hello-world-x1c4q9"
func Slugify(title string) string {
	base := strings.ToLower(strings.TrimSpace(title))
	base = slugStrip.ReplaceAllString(base, "")
	base = slugSpaces.ReplaceAllString(base, "-")
	base = slugCollapse.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if len(base) > 60 {
		base = base[:60]
		base = strings.TrimRight(base, "-")
	}
	suffix := gonanoid.MustGenerate(slugAlphabet, 6)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
