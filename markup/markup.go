// Package markup converts lightweight markup text into a constrained, safe
// HTML fragment. Conversion uses goldmark; the result is then stripped down
// to an explicit allow-list of tags, attributes, and URL schemes with
// bluemonday. The whole transformation is pure and safe for concurrent use.
package markup

import (
	"bytes"
	"errors"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
)

// ErrConvert indicates the markup could not be converted to HTML.
var ErrConvert = errors.New("markup conversion failed")

// Sanitizer converts markup to a sanitized HTML fragment.
type Sanitizer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewSanitizer creates a Sanitizer with GFM extensions and the export
// allow-list policy.
func NewSanitizer() *Sanitizer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,      // Tables, strikethrough, autolinks, task lists
			extension.Footnote, // [^1] footnotes
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(), // Treat newlines as <br>
			html.WithXHTML(),     // Self-closing tags
		),
	)
	return &Sanitizer{md: md, policy: newPolicy()}
}

// newPolicy builds the allow-list the sanitized fragment is reduced to:
// paragraphs, headings, emphasis, links, images, lists, code blocks, and
// preformatted blocks. URL-bearing attributes accept only the http, https,
// and data schemes; everything else is dropped.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"em", "strong", "b", "i",
		"a", "img",
		"ul", "ol", "li",
		"blockquote", "code", "pre", "br", "hr",
	)
	p.AllowAttrs("href", "name", "target", "rel").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("class").OnElements("code", "pre")

	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "data")

	return p
}

// Sanitize converts text to HTML and strips the result down to the
// allow-list. The returned fragment contains no tag, attribute, or URI
// scheme outside the policy regardless of input.
func (s *Sanitizer) Sanitize(text string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConvert, err)
	}
	return s.policy.SanitizeReader(&buf).String(), nil
}
