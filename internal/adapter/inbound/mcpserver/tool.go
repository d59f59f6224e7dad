package mcpserver

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/port/inbound"
)

// fetchArgs is the fetch-url tool input.
type fetchArgs struct {
	URL              string `json:"url" jsonschema:"absolute http or https URL of the page to fetch"`
	SkipNoiseRemoval bool   `json:"skipNoiseRemoval,omitempty" jsonschema:"convert the page as-is instead of stripping navigation and other chrome first"`
	ForceRefresh     bool   `json:"forceRefresh,omitempty" jsonschema:"bypass the content cache for this call"`
	MaxInlineChars   int    `json:"maxInlineChars,omitempty" jsonschema:"maximum markdown characters returned inline before the result is truncated"`
}

// fetchPayload is the structured content of a successful fetch.
type fetchPayload struct {
	URL         string `json:"url"`
	InputURL    string `json:"inputUrl"`
	ResolvedURL string `json:"resolvedUrl"`
	Title       string `json:"title,omitempty"`
	Markdown    string `json:"markdown"`
}

// fetchFailure is the structured content of a failed fetch.
type fetchFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

func (f *Factory) registerFetchTool(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "fetch-url",
		Description: "Fetch a single public web page and return its content as LLM-ready Markdown " +
			"with title and URL metadata. Long documents are truncated inline and linked as a cached resource.",
	}, f.handleFetchURL)
}

func (f *Factory) handleFetchURL(ctx context.Context, _ *mcp.CallToolRequest, args fetchArgs) (*mcp.CallToolResult, any, error) {
	res, err := f.fetch.Fetch(ctx, inbound.FetchRequest{
		URL:              args.URL,
		SkipNoiseRemoval: args.SkipNoiseRemoval,
		ForceRefresh:     args.ForceRefresh,
		MaxInlineChars:   args.MaxInlineChars,
	})
	if err != nil {
		failure := fetchFailure{URL: args.URL, Error: fetch.MessageOf(err)}
		result := &mcp.CallToolResult{
			IsError:           true,
			Content:           []mcp.Content{&mcp.TextContent{Text: failure.Error}},
			StructuredContent: failure,
		}
		return result, failure, nil
	}

	budget := args.MaxInlineChars
	if budget <= 0 {
		budget = f.maxInline
	}

	inline := res.Markdown
	content := make([]mcp.Content, 0, 2)
	if res.Truncated {
		inline = truncateMarkdown(inline, budget)
		if res.Resource != nil {
			uri := res.Resource.URI()
			inline += fmt.Sprintf("\n\n[Content truncated. Full document: %s]", uri)
			content = append(content, &mcp.TextContent{Text: inline}, &mcp.ResourceLink{
				URI:         uri,
				Name:        "cached-markdown",
				Description: "Full markdown document held in the content cache",
				MIMEType:    markdownMIME,
			})
		} else {
			inline += "\n\n[Content truncated. Retry with a larger maxInlineChars to see more.]"
			content = append(content, &mcp.TextContent{Text: inline})
		}
	} else {
		content = append(content, &mcp.TextContent{Text: inline})
	}

	payload := fetchPayload{
		URL:         res.URL,
		InputURL:    res.InputURL,
		ResolvedURL: res.ResolvedURL,
		Title:       res.Title,
		Markdown:    inline,
	}
	result := &mcp.CallToolResult{
		Content:           content,
		StructuredContent: payload,
	}
	return result, payload, nil
}

// truncateMarkdown cuts markdown at the byte budget without splitting
// a UTF-8 sequence.
func truncateMarkdown(markdown string, budget int) string {
	if budget <= 0 || len(markdown) <= budget {
		return markdown
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(markdown[cut]) {
		cut--
	}
	return markdown[:cut]
}
