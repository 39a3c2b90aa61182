package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerptStripsMarkdown(t *testing.T) {
	body := "# Heading\n\nSome **bold** text with a [link](https://example.com) and `code`."
	got := Excerpt(body, "markdown", 300)
	assert.Equal(t, "Heading Some bold text with a link and code.", got)
}

func TestExcerptStripsHTMLForRichtext(t *testing.T) {
	body := "<h1>Title</h1><p>Hello <strong>there</strong></p>"
	got := Excerpt(body, "richtext", 300)
	assert.Equal(t, "Title Hello there", got)
}

func TestExcerptRemovesMathBlocks(t *testing.T) {
	body := "Euler: $$e^{i\\pi} + 1 = 0$$ and inline $x+y$ too"
	got := Excerpt(body, "latex", 300)
	assert.NotContains(t, got, "$$")
	assert.Contains(t, got, "Euler:")
	assert.Contains(t, got, "too")
}

func TestExcerptTruncatesTo300(t *testing.T) {
	body := strings.Repeat("word ", 200)
	got := Excerpt(body, "markdown", 300)
	assert.LessOrEqual(t, len([]rune(got)), 300)
}

func TestTruncateRuneSafe(t *testing.T) {
	s := "héllo wörld"
	assert.Equal(t, "héllo", Truncate(s, 5))
	assert.Equal(t, s, Truncate(s, 50))
}

func TestSnippetAppendsEllipsis(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 100))
	long := strings.Repeat("a", 150)
	got := Snippet(long, 100)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)
}
