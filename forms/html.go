package forms

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var plainText = bluemonday.StrictPolicy()

// StripHTML drops the markup the rich text editor wraps post bodies in
func StripHTML(body string) string {
	return html.UnescapeString(plainText.Sanitize(body))
}
