// Package content holds the extraction and conversion types shared by
// the transform pipeline.
package content

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Metadata describes a fetched page. Precedence while extracting is
// og:* over twitter:* over standard tags; the title falls back to the
// document <title>.
type Metadata struct {
	// Title is the page title, if any was found.
	Title string `yaml:"title,omitempty"`
	// Description is the page summary, if any.
	Description string `yaml:"description,omitempty"`
	// Author is the page author or byline, if any.
	Author string `yaml:"author,omitempty"`
	// URL is the final URL the page was fetched from.
	URL string `yaml:"url"`
	// FetchedAt is when the fetch completed (UTC).
	FetchedAt time.Time `yaml:"fetchedAt"`
}

// Frontmatter renders the metadata as a YAML frontmatter block,
// including the trailing blank line that separates it from the body.
func (m *Metadata) Frontmatter() (string, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	return "---\n" + string(b) + "---\n\n", nil
}

// Result carries what the extractor hands to the converter.
type Result struct {
	// ArticleHTML is the readability-extracted markup. Empty when
	// extraction was skipped, failed, or was rejected by the quality
	// gate.
	ArticleHTML string
	// DocumentHTML is the noise-stripped full document markup. The
	// converter falls back to it when no article survived.
	DocumentHTML string
	// Metadata is the extracted page metadata.
	Metadata Metadata
}

// BestHTML returns the article markup when extraction produced one and
// the stripped document otherwise.
func (r *Result) BestHTML() string {
	if r.ArticleHTML != "" {
		return r.ArticleHTML
	}
	return r.DocumentHTML
}

// Options control one transform.
type Options struct {
	// SkipNoiseRemoval leaves navigation and promotional chrome in
	// place and bypasses readability extraction.
	SkipNoiseRemoval bool
}
