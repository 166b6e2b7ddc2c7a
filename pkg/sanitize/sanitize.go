// Package sanitize turns free-form agent output into the restricted HTML
// subset the chat transport renders: bold, italic, inline code and links.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	listBlock = regexp.MustCompile(`(?is)<ul\b[^>]*>.*?</ul\s*>`)
	liOpen    = regexp.MustCompile(`(?i)\s*<li\b[^>]*>\s*`)
	liClose   = regexp.MustCompile(`(?i)\s*</li\s*>\s*`)
	ulOpen    = regexp.MustCompile(`(?i)<ul\b[^>]*>\s*`)
	ulClose   = regexp.MustCompile(`(?i)\s*</ul\s*>`)
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "code")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg")
	return p
}

// Sanitize converts unordered lists to "- " lines, strips every tag and
// attribute outside b, i, code and a[href], and trims surrounding
// whitespace. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	out := listBlock.ReplaceAllStringFunc(raw, flattenList)
	out = policy.Sanitize(out)
	return strings.TrimSpace(out)
}

func flattenList(block string) string {
	block = liOpen.ReplaceAllString(block, "- ")
	block = liClose.ReplaceAllString(block, "\n")
	block = ulOpen.ReplaceAllString(block, "\n")
	return ulClose.ReplaceAllString(block, "\n")
}
