package utils

import (
	"regexp"
	"strings"
)

var (
	htmlTags     = regexp.MustCompile(`<[^>]+>`)
	mdHeaders    = regexp.MustCompile(`#{1,6}\s+`)
	mdFormatting = regexp.MustCompile("[*_`~>]")
	mdLinks      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mathBlocks   = regexp.MustCompile(`\$\$.*?\$\$`)
	mathInline   = regexp.MustCompile(`\$.*?\$`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Excerpt derives a plain-text preview from a post body. Richtext bodies get
// their HTML tags stripped; markdown/latex bodies lose their formatting
// characters, links keep only their label.
func Excerpt(body, format string, max int) string {
	plain := body
	if format == "richtext" {
		plain = htmlTags.ReplaceAllString(plain, " ")
	} else {
		plain = mdHeaders.ReplaceAllString(plain, "")
		plain = mdLinks.ReplaceAllString(plain, "$1")
		plain = mathBlocks.ReplaceAllString(plain, "")
		plain = mathInline.ReplaceAllString(plain, "")
		plain = mdFormatting.ReplaceAllString(plain, "")
	}
	plain = strings.TrimSpace(whitespace.ReplaceAllString(plain, " "))
	return Truncate(plain, max)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max])
}

// Snippet cuts s to at most max runes, appending an ellipsis when trimmed.
func Snippet(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max]) + "..."
}
