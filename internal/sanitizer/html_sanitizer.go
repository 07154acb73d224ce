// Package sanitizer sanitizes HTML message bodies before they are returned
// to API clients, preventing XSS from hostile senders.
package sanitizer

import (
	"net/url"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer sanitizes HTML content extracted from messages.
type HTMLSanitizer struct {
	policy *bluemonday.Policy
}

// New creates a sanitizer with a policy suited to rendering mail bodies:
// formatting and table markup survive, scripts and event handlers do not.
func New() *HTMLSanitizer {
	policy := bluemonday.UGCPolicy()

	policy.AllowElements(
		"p", "br", "hr", "div", "span",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"strong", "b", "em", "i", "u", "s",
		"blockquote", "pre", "code",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
		"a", "img", "font", "center",
	)
	policy.AllowAttrs("href").OnElements("a")
	policy.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	policy.AllowAttrs("style", "class").Globally()
	policy.AllowAttrs("align", "valign", "bgcolor", "color", "size", "face").Globally()
	policy.AllowAttrs("colspan", "rowspan", "border", "cellpadding", "cellspacing").OnElements("table", "td", "th")
	policy.AllowURLSchemeWithCustomPolicy("data", allowBase64Image)
	policy.RequireNoFollowOnLinks(true)

	return &HTMLSanitizer{policy: policy}
}

var base64ImagePattern = regexp.MustCompile(`^image/(png|jpe?g|gif|webp);base64,`)

// allowBase64Image permits inline base64 images while rejecting every other
// data URI payload.
func allowBase64Image(u *url.URL) bool {
	return base64ImagePattern.MatchString(u.Opaque)
}

// Sanitize applies the policy to html.
func (s *HTMLSanitizer) Sanitize(html string) string {
	return s.policy.Sanitize(html)
}
