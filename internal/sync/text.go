package sync

import (
	"html"
	"regexp"
	"strings"
)

var (
	breakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)
	htmlTags  = regexp.MustCompile(`<[^>]+>`)
)

// plainText renders the internal system's rich-text (HTML) description as
// plain text for the external tracker: block-level closers become newlines,
// remaining tags are dropped, entities are unescaped.
func plainText(rich string) string {
	s := breakTags.ReplaceAllString(rich, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
