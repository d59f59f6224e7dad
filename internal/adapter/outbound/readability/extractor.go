// Package readability implements the outbound extractor: tolerant HTML
// parsing, noise stripping, metadata extraction, and gated article
// extraction on top of go-readability.
package readability

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	goreadability "github.com/go-shiori/go-readability"

	"github.com/superfetch/superfetch/internal/domain/content"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

const (
	// maxElemsToParse bounds the readability pass on pathological pages.
	maxElemsToParse = 20000

	// minTextForExtraction is the visible-text floor below which the
	// readability pass is skipped entirely.
	minTextForExtraction = 400

	// minDocTextForGate is the visible-text floor below which the text
	// retention check is waived.
	minDocTextForGate = 100

	// Retention ratios the extracted article must clear against the
	// stripped document.
	textRetention    = 0.15
	headingRetention = 0.3
	preRetention     = 0.15
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// noiseSelector matches elements that never carry readable content.
const noiseSelector = "script, style, noscript, iframe, form, button, input, select, textarea, nav, aside, footer"

// roleSelector matches ARIA landmarks for navigation and chrome.
const roleSelector = `[role="navigation"], [role="banner"], [role="complementary"], ` +
	`[role="menu"], [role="menubar"], [role="search"], [role="dialog"], [role="alertdialog"]`

// promoTokens are class/id tokens that mark promotional or chrome
// elements. Tokens are compared against attribute fields split on
// space, dash, underscore, and colon.
var promoTokens = map[string]struct{}{
	"banner": {}, "promo": {}, "promotion": {}, "cta": {},
	"newsletter": {}, "subscribe": {}, "subscription": {},
	"cookie": {}, "consent": {}, "gdpr": {},
	"modal": {}, "popup": {}, "overlay": {}, "paywall": {},
	"pagination": {}, "paginator": {}, "breadcrumb": {}, "breadcrumbs": {},
	"advert": {}, "advertisement": {}, "ads": {}, "sponsor": {}, "sponsored": {},
	"sidebar": {}, "share": {}, "social": {},
}

// Extractor pulls the readable article and page metadata out of fetched
// HTML. The zero value is ready to use.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses rawHTML, strips noise unless opts say otherwise, and
// runs gated readability extraction. It never fails: unparseable input
// yields an empty result and the caller converts the raw bytes instead.
func (e *Extractor) Extract(rawHTML []byte, u *url.URL, opts content.Options) *content.Result {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return &content.Result{}
	}

	result := &content.Result{Metadata: extractMetadata(doc)}

	if opts.SkipNoiseRemoval {
		result.DocumentHTML = documentHTML(doc)
		return result
	}

	stripNoise(doc)
	result.DocumentHTML = documentHTML(doc)

	docText := len(normalizedText(doc.Find("body").Text()))
	if docText < minTextForExtraction {
		return result
	}

	full, err := doc.Html()
	if err != nil {
		return result
	}
	parser := goreadability.NewParser()
	parser.MaxElemsToParse = maxElemsToParse
	article, err := parser.Parse(strings.NewReader(full), u)
	if err != nil {
		return result
	}

	if result.Metadata.Author == "" {
		result.Metadata.Author = strings.TrimSpace(article.Byline)
	}
	if result.Metadata.Title == "" {
		result.Metadata.Title = strings.TrimSpace(article.Title)
	}

	if passesGate(article.Content, doc, docText) {
		result.ArticleHTML = article.Content
	}
	return result
}

// passesGate decides whether the extracted article retains enough of
// the stripped document to be trusted: text, headings, and code blocks
// each have a retention floor.
func passesGate(articleHTML string, doc *goquery.Document, docTextLen int) bool {
	artDoc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		return false
	}

	artText := len(normalizedText(artDoc.Text()))
	if docTextLen >= minDocTextForGate && float64(artText) < textRetention*float64(docTextLen) {
		return false
	}

	docHeadings := doc.Find(headingSelector).Length()
	if artHeadings := artDoc.Find(headingSelector).Length(); float64(artHeadings) < headingRetention*float64(docHeadings) {
		return false
	}

	docPre := doc.Find("pre").Length()
	if artPre := artDoc.Find("pre").Length(); float64(artPre) < preRetention*float64(docPre) {
		return false
	}
	return true
}

// stripNoise removes non-content elements in place.
func stripNoise(doc *goquery.Document) {
	doc.Find(noiseSelector).Remove()
	doc.Find(roleSelector).Remove()

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if overlayStyle(style) {
			s.Remove()
		}
	})

	doc.Find("[class],[id]").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "html", "head", "body":
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if hasPromoToken(class) || hasPromoToken(id) {
			s.Remove()
		}
	})
}

// overlayStyle reports whether an inline style pins the element over
// the page: fixed or sticky positioning combined with a high z-index or
// an isolated stacking context.
func overlayStyle(style string) bool {
	s := strings.ReplaceAll(strings.ToLower(style), " ", "")
	if !strings.Contains(s, "position:fixed") && !strings.Contains(s, "position:sticky") {
		return false
	}
	if strings.Contains(s, "isolation:isolate") {
		return true
	}
	if i := strings.Index(s, "z-index:"); i >= 0 {
		rest := s[i+len("z-index:"):]
		if end := strings.IndexAny(rest, ";}"); end >= 0 {
			rest = rest[:end]
		}
		if z, err := strconv.Atoi(rest); err == nil && z >= 1000 {
			return true
		}
	}
	return false
}

func hasPromoToken(attr string) bool {
	if attr == "" {
		return false
	}
	fields := strings.FieldsFunc(strings.ToLower(attr), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == ':'
	})
	for _, f := range fields {
		if _, ok := promoTokens[f]; ok {
			return true
		}
	}
	return false
}

// extractMetadata reads page metadata with og:* over twitter:* over
// standard tag precedence. URL and fetch time are the caller's to fill.
func extractMetadata(doc *goquery.Document) content.Metadata {
	return content.Metadata{
		Title: firstNonEmpty(
			metaContent(doc, `meta[property="og:title"]`),
			metaContent(doc, `meta[name="twitter:title"]`),
			metaContent(doc, `meta[name="title"]`),
			strings.TrimSpace(doc.Find("title").First().Text()),
		),
		Description: firstNonEmpty(
			metaContent(doc, `meta[property="og:description"]`),
			metaContent(doc, `meta[name="twitter:description"]`),
			metaContent(doc, `meta[name="description"]`),
		),
		Author: firstNonEmpty(
			metaContent(doc, `meta[property="article:author"]`),
			metaContent(doc, `meta[name="twitter:creator"]`),
			metaContent(doc, `meta[name="author"]`),
		),
	}
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// documentHTML serializes the document body, the fallback the converter
// uses when no article survived the gate.
func documentHTML(doc *goquery.Document) string {
	if body := doc.Find("body"); body.Length() > 0 {
		if h, err := goquery.OuterHtml(body.First()); err == nil {
			return h
		}
	}
	h, err := doc.Html()
	if err != nil {
		return ""
	}
	return h
}

func normalizedText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Compile-time interface verification.
var _ outbound.Extractor = (*Extractor)(nil)
