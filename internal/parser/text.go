package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SnippetLength is the maximum number of characters in a summary snippet.
const SnippetLength = 200

var (
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)

	// stripPolicy removes every tag. A space replaces each stripped tag so
	// adjacent block elements do not run together.
	stripPolicy = func() *bluemonday.Policy {
		p := bluemonday.StrictPolicy()
		p.AddSpaceWhenStrippingTag(true)
		return p
	}()
)

// HTMLToText derives plain text from an HTML body: style and script blocks
// are dropped, remaining tags stripped, entities decoded and whitespace runs
// collapsed to a single space.
func HTMLToText(body string) string {
	if body == "" {
		return ""
	}
	body = styleBlock.ReplaceAllString(body, " ")
	body = scriptBlock.ReplaceAllString(body, " ")
	body = stripPolicy.Sanitize(body)
	return collapseWhitespace(html.UnescapeString(body))
}

// Snippet returns the first SnippetLength characters of the plain text body,
// or of the HTML-derived text when the plain text body is blank. The cut is a
// hard character cut with no word-boundary adjustment.
func Snippet(text, htmlBody string) string {
	derived := collapseWhitespace(text)
	if derived == "" {
		derived = HTMLToText(htmlBody)
	}
	return truncateRunes(derived, SnippetLength)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
