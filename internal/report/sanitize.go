package report

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var bodyPolicy = newBodyPolicy()

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowStandardURLs()
	p.AllowElements("p", "br", "strong", "b", "em", "i", "u", "ul", "ol", "li", "blockquote")
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return p
}

// SanitizeBody strips everything but basic formatting from a user supplied
// email body.
func SanitizeBody(body string) string {
	return bodyPolicy.Sanitize(body)
}

var (
	blockBreak = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/li|/blockquote)\s*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// PlainText converts sanitized HTML into text for the plain alternative part.
func PlainText(sanitized string) string {
	s := blockBreak.ReplaceAllString(sanitized, "\n")
	s = bluemonday.StrictPolicy().Sanitize(s)
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
