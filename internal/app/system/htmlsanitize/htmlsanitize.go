// Package htmlsanitize strips markup from visitor-supplied text before it is
// sent to the identity backend as user metadata.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText removes every tag from s, decodes entities and collapses runs
// of whitespace.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(cleaned), " ")
}

// IsPlainText reports whether s contains no markup.
func IsPlainText(s string) bool {
	return strict.Sanitize(s) == html.EscapeString(s)
}
