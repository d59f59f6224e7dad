package outbound

import (
	"net/url"

	"github.com/superfetch/superfetch/internal/domain/content"
)

// Extractor is the outbound port for pulling the readable article and
// metadata out of fetched HTML.
type Extractor interface {
	// Extract parses html tolerantly, strips noise unless opts say
	// otherwise, and applies the article quality gate. Parse failures
	// return an empty result, not an error.
	Extract(html []byte, u *url.URL, opts content.Options) *content.Result
}

// Converter is the outbound port for turning cleaned HTML into
// Markdown.
type Converter interface {
	// Convert renders html as Markdown, resolving relative links
	// against base.
	Convert(html string, base *url.URL) (string, error)
}
