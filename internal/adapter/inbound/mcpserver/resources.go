package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/superfetch/superfetch/internal/domain/cache"
)

// markdownMIME is the media type of cached markdown payloads.
const markdownMIME = "text/markdown; charset=utf-8"

func (f *Factory) registerCacheResources(srv *mcp.Server) {
	srv.AddResourceTemplate(&mcp.ResourceTemplate{
		Name: "cached-content",
		Description: "Markdown produced by fetch-url, readable until the cache entry expires. " +
			"URI format: superfetch://cache/{namespace}/{fingerprint}",
		MIMEType:    markdownMIME,
		URITemplate: "superfetch://cache/{namespace}/{fingerprint}",
	}, f.handleReadCacheEntry)
}

func (f *Factory) handleReadCacheEntry(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	key, err := cache.ParseURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	entry, ok := f.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", req.Params.URI)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: entry.MIME,
			Text:     string(entry.Payload),
		}},
	}, nil
}

// handleSubscribe validates subscription URIs. Subscribing ahead of the
// first fetch is allowed; the entry appears once the fetch completes.
func (f *Factory) handleSubscribe(_ context.Context, req *mcp.SubscribeRequest) error {
	key, err := cache.ParseURI(req.Params.URI)
	if err != nil {
		return fmt.Errorf("cannot subscribe to %q: %w", req.Params.URI, err)
	}
	f.logger.Debug("resource subscribed",
		"namespace", key.Namespace, "fingerprint", key.Fingerprint)
	return nil
}

func (f *Factory) handleUnsubscribe(_ context.Context, req *mcp.UnsubscribeRequest) error {
	if _, err := cache.ParseURI(req.Params.URI); err != nil {
		return fmt.Errorf("cannot unsubscribe from %q: %w", req.Params.URI, err)
	}
	return nil
}
