// Package markdown renders extracted HTML as LLM-ready Markdown.
//
// Conversion runs in three phases. A goquery pre-pass pins down image
// sources and resolves relative references against the page URL. The
// html-to-markdown engine then walks the document with custom rules
// for code blocks, inline code, images, admonition callouts and
// spanned tables layered over the GitHub Flavored defaults. A final
// line pass drops empty headings, caps blank runs, flattens
// anchor-only links and promotes orphan bold lines to headings.
package markdown

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// dataURLPlaceholder replaces inline data: payloads, which carry no
// information a language model can use and can reach megabytes.
const dataURLPlaceholder = "data:image"

// maxBlankLines is the largest run of consecutive blank lines kept
// outside code fences.
const maxBlankLines = 2

// Converter turns cleaned HTML into GitHub Flavored Markdown.
type Converter struct {
	engine *md.Converter
}

// New builds a Converter with all rendering rules wired in. The
// returned value is safe for concurrent use.
func New() *Converter {
	engine := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "_",
		StrongDelimiter:  "**",
	})
	engine.Use(plugin.GitHubFlavored())
	// Later rules run first; returning nil falls back to the GFM and
	// CommonMark defaults.
	engine.AddRules(
		fencedCodeRule(),
		inlineCodeRule(),
		imageRule(),
		admonitionRule(),
		spannedTableRule(),
	)
	return &Converter{engine: engine}
}

// Convert renders html as Markdown. Relative link and image targets
// are resolved against base, typically the final URL after redirects.
func (c *Converter) Convert(html string, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fetch.WrapError(fetch.CodeParseError, "HTML could not be parsed for conversion", err)
	}
	normalize(doc, base)
	return postProcess(c.engine.Convert(doc.Selection)), nil
}

// normalize rewrites the document in place before conversion: every
// img gets its best source pinned into src, and relative href/src
// values become absolute.
func normalize(doc *goquery.Document, base *url.URL) {
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := imageSource(img)
		for _, attr := range []string{"data-src", "data-lazy-src", "data-original", "data-srcset", "srcset"} {
			img.RemoveAttr(attr)
		}
		if src == "" {
			img.RemoveAttr("src")
			return
		}
		img.SetAttr("src", resolveURL(src, base))
	})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		a.SetAttr("href", resolveURL(a.AttrOr("href", ""), base))
	})
}

// resolveURL makes raw absolute using base. Fragment-only references
// stay as they are so the post-processing pass can recognize them.
func resolveURL(raw string, base *url.URL) string {
	if raw == "" || base == nil || strings.HasPrefix(raw, "#") {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.Scheme != "" {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func fencedCodeRule() md.Rule {
	return md.Rule{
		Filter: []string{"pre"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			code := strings.Trim(selec.Text(), "\n")
			fence := codeFence(code)
			lang := codeLanguage(selec, code)
			return md.String("\n\n" + fence + lang + "\n" + code + "\n" + fence + "\n\n")
		},
	}
}

// codeFence returns a backtick fence one longer than the longest
// backtick run in code, with the usual minimum of three.
func codeFence(code string) string {
	run := longestBacktickRun(code)
	if run < 3 {
		run = 2
	}
	return strings.Repeat("`", run+1)
}

// codeLanguage resolves the language tag for a code block: class
// prefixes on the pre or its code child first, then data-language,
// then content heuristics.
func codeLanguage(selec *goquery.Selection, code string) string {
	nodes := []*goquery.Selection{selec, selec.ChildrenFiltered("code")}
	for _, node := range nodes {
		if lang := classLanguage(node.AttrOr("class", "")); lang != "" {
			return lang
		}
	}
	for _, node := range nodes {
		if lang := strings.TrimSpace(node.AttrOr("data-language", "")); lang != "" {
			return strings.ToLower(lang)
		}
	}
	return detectLanguage(code)
}

// classLanguagePrefixes are checked in order; language- must come
// before its own prefix lang-.
var classLanguagePrefixes = []string{"language-", "lang-", "highlight-"}

func classLanguage(class string) string {
	for _, token := range strings.Fields(class) {
		for _, prefix := range classLanguagePrefixes {
			if rest := strings.TrimPrefix(token, prefix); rest != token && rest != "" {
				return strings.ToLower(rest)
			}
		}
	}
	return ""
}

// languageDetectors are tried in order; supersets come before their
// subsets so that jsx wins over js and ts over js.
var languageDetectors = []struct {
	name  string
	match func(string) bool
}{
	{"jsx", matchPattern(`<[A-Z][A-Za-z0-9]*[\s/>]|className=|from ['"]react['"]`)},
	{"ts", matchPattern(`(?m)\b(interface|type)\s+[A-Z]\w*\s*[={]|:\s*(string|number|boolean)\s*[;,)]|\breadonly\s+\w|\bimplements\s+[A-Z]`)},
	{"rust", matchPattern(`\bfn\s+\w+|\blet\s+mut\s|println!|\bimpl\s+\w|\buse\s+std::`)},
	{"js", matchPattern(`\bfunction\s*\w*\s*\(|=>\s*[{(]|\bconsole\.log|\b(const|let|var)\s+\w+\s*=`)},
	{"python", matchPattern(`(?m)^\s*def\s+\w+\(|^\s*(import|from)\s+\w+$|\bprint\(|^\s*elif\s|\bself\.`)},
	{"bash", matchPattern(`(?m)^#!\s*/bin/(ba)?sh|^\s*\$\s+\w|^\s*(sudo|apt|curl|echo|export|mkdir|git|npm|grep)\s`)},
	{"css", matchPattern(`(?m)^\s*[.#@]?[\w-]+[^{}\n]*\{[^{}]*:[^{}]*;`)},
	{"html", matchPattern(`(?i)<!doctype html|<html[\s>]|</(div|p|body|span|ul|li)>`)},
	{"json", looksLikeJSON},
	{"yaml", matchPattern(`(?m)^[\w-]+:\s+\S|^-\s+[\w"']`)},
	{"sql", matchPattern(`(?is)\bselect\s+.+?\s+from\s|\binsert\s+into\s|\bcreate\s+table\s|\bupdate\s+\w+\s+set\s|\bdelete\s+from\s`)},
	{"go", matchPattern(`(?m)^\s*(func|package)\s+\w|:=|\bgo\s+func\b|\bfmt\.\w+\(`)},
}

func matchPattern(expr string) func(string) bool {
	return regexp.MustCompile(expr).MatchString
}

func looksLikeJSON(code string) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// detectLanguage guesses the highlight language for an unlabeled code
// block, returning "" when nothing matches.
func detectLanguage(code string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	for _, detector := range languageDetectors {
		if detector.match(code) {
			return detector.name
		}
	}
	return ""
}

func inlineCodeRule() md.Rule {
	return md.Rule{
		Filter: []string{"code"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			// Code inside pre is rendered by the fence rule.
			if selec.ParentsFiltered("pre").Length() > 0 {
				return md.String("")
			}
			text := selec.Text()
			if text == "" {
				return md.String("")
			}
			delim := strings.Repeat("`", longestBacktickRun(text)+1)
			if strings.HasPrefix(text, "`") || strings.HasSuffix(text, "`") {
				text = " " + text + " "
			}
			return md.String(delim + text + delim)
		},
	}
}

func longestBacktickRun(s string) int {
	longest, current := 0, 0
	for _, r := range s {
		if r != '`' {
			current = 0
			continue
		}
		current++
		if current > longest {
			longest = current
		}
	}
	return longest
}

var altEscaper = strings.NewReplacer("[", `\[`, "]", `\]`, "\n", " ")

func imageRule() md.Rule {
	return md.Rule{
		Filter: []string{"img"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			src := imageSource(selec)
			if src == "" {
				return md.String("")
			}
			alt := strings.TrimSpace(selec.AttrOr("alt", ""))
			if alt == "" {
				alt = humanizeFilename(src)
			}
			return md.String(fmt.Sprintf("![%s](%s)", altEscaper.Replace(alt), src))
		},
	}
}

// imageSource picks the best source for an img: src, then the lazy
// loading attributes, then the first srcset candidate. data: URLs are
// skipped while any other source remains and collapse to a
// placeholder otherwise.
func imageSource(selec *goquery.Selection) string {
	sawData := false
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		v := strings.TrimSpace(selec.AttrOr(attr, ""))
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "data:") {
			sawData = true
			continue
		}
		return v
	}
	for _, attr := range []string{"data-srcset", "srcset"} {
		v := firstSrcsetCandidate(selec.AttrOr(attr, ""))
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "data:") {
			sawData = true
			continue
		}
		return v
	}
	if sawData {
		return dataURLPlaceholder
	}
	return ""
}

// firstSrcsetCandidate returns the URL of the first srcset entry,
// dropping its width or density descriptor.
func firstSrcsetCandidate(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// humanizeFilename derives alt text from an image URL, turning a path
// like /img/build-cache_hit.png into "build cache hit".
func humanizeFilename(src string) string {
	if strings.HasPrefix(src, "data:") {
		return "image"
	}
	p := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		p = u.Path
	}
	stem := path.Base(p)
	if stem == "/" || stem == "." {
		return "image"
	}
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	if decoded, err := url.PathUnescape(stem); err == nil {
		stem = decoded
	}
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	if len(words) == 0 {
		return "image"
	}
	return strings.Join(words, " ")
}

var admonitionTypes = []string{"note", "tip", "info", "warning", "danger", "caution", "important"}

func admonitionRule() md.Rule {
	return md.Rule{
		Filter: []string{"div"},
		Replacement: func(content string, selec *goquery.Selection, _ *md.Options) *string {
			kind := admonitionKind(selec.AttrOr("class", ""))
			if kind == "" {
				return nil
			}
			body := blankRunPattern.ReplaceAllString(strings.TrimSpace(content), "\n\n")
			lines := []string{"> [!" + kind + "]"}
			for _, line := range strings.Split(body, "\n") {
				if line == "" {
					lines = append(lines, ">")
					continue
				}
				lines = append(lines, "> "+line)
			}
			return md.String("\n\n" + strings.Join(lines, "\n") + "\n\n")
		},
	}
}

// admonitionKind matches class segments, not substrings, so that
// admonition-note matches and notebook does not.
func admonitionKind(class string) string {
	for _, token := range strings.Fields(strings.ToLower(class)) {
		segments := strings.FieldsFunc(token, func(r rune) bool {
			return r == '-' || r == '_' || r == ':'
		})
		for _, segment := range segments {
			for _, kind := range admonitionTypes {
				if segment == kind {
					return strings.ToUpper(kind)
				}
			}
		}
	}
	return ""
}

func spannedTableRule() md.Rule {
	return md.Rule{
		Filter: []string{"table"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			if !hasSpannedCells(selec) {
				return nil
			}
			html, err := goquery.OuterHtml(selec)
			if err != nil {
				return nil
			}
			return md.String("\n\n" + strings.TrimSpace(html) + "\n\n")
		},
	}
}

// hasSpannedCells reports whether any cell spans two or more rows or
// columns, which pipe syntax cannot express.
func hasSpannedCells(selec *goquery.Selection) bool {
	spanned := false
	selec.Find("td, th").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		for _, attr := range []string{"colspan", "rowspan"} {
			n, err := strconv.Atoi(strings.TrimSpace(cell.AttrOr(attr, "")))
			if err == nil && n >= 2 {
				spanned = true
				return false
			}
		}
		return true
	})
	return spanned
}

var (
	emptyHeadingPattern = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]*$`)
	anchorLinkPattern   = regexp.MustCompile(`\[([^\]]*)\]\(#[^)]*\)`)
	boldLinePattern     = regexp.MustCompile(`^\*\*([^*]{1,80})\*\*$`)
	blankRunPattern     = regexp.MustCompile(`\n{3,}`)
)

// postProcess cleans up the rendered Markdown line by line. Content
// inside code fences passes through untouched.
func postProcess(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	fence := ""
	for _, line := range lines {
		if fence != "" {
			out = append(out, line)
			if closesFence(line, fence) {
				fence = ""
			}
			continue
		}
		if d := fenceDelimiter(line); d != "" {
			fence = d
			blanks = 0
			out = append(out, line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks <= maxBlankLines {
				out = append(out, "")
			}
			continue
		}
		if emptyHeadingPattern.MatchString(line) {
			continue
		}
		blanks = 0
		line = anchorLinkPattern.ReplaceAllString(line, "$1")
		out = append(out, promoteBoldHeading(line))
	}
	cleaned := strings.TrimSpace(strings.Join(out, "\n"))
	if cleaned == "" {
		return ""
	}
	return cleaned + "\n"
}

// fenceDelimiter returns the fence marker opening on this line, or ""
// when the line opens no fence.
func fenceDelimiter(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return ""
	}
	ch := trimmed[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	return trimmed[:n]
}

func closesFence(line, fence string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " "), fence)
}

// promoteBoldHeading turns a standalone fully bold line into a level
// two heading unless it ends in punctuation, which marks it as an
// emphasized sentence rather than a section title.
func promoteBoldHeading(line string) string {
	m := boldLinePattern.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	text := strings.TrimSpace(m[1])
	if text == "" || strings.ContainsAny(text[len(text)-1:], ".,:;!?") {
		return line
	}
	return "## " + text
}

var _ outbound.Converter = (*Converter)(nil)
