package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/superfetch/superfetch/internal/ctxkey"
	"github.com/superfetch/superfetch/internal/domain/cache"
	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/domain/transform"
	"github.com/superfetch/superfetch/internal/port/inbound"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// cachedMIME is the media type every cached payload is served under.
const cachedMIME = "text/markdown; charset=utf-8"

// FetchConfig carries the fetch pipeline knobs.
type FetchConfig struct {
	// CacheEnabled turns the content cache on.
	CacheEnabled bool
	// CacheTTL is how long cached entries live. Zero means the default.
	CacheTTL time.Duration
	// MaxInlineChars is the inline markdown budget when the request does
	// not override it. Zero means the default.
	MaxInlineChars int
}

// FetchService runs the fetch pipeline: URL guard, optional URL policy,
// cache lookup, outbound fetch, transform (pooled, or verbatim for raw
// content), and cache write-through.
type FetchService struct {
	fetcher outbound.PageFetcher
	pool    *TransformService
	cache   outbound.ContentCache
	policy  outbound.URLPolicy
	stats   *StatsService
	logger  *slog.Logger

	cacheEnabled bool
	cacheTTL     time.Duration
	maxInline    int
}

// NewFetchService wires the pipeline. cache may be nil when caching is
// disabled; policy may be nil when no URL policy is configured.
func NewFetchService(
	fetcher outbound.PageFetcher,
	pool *TransformService,
	contentCache outbound.ContentCache,
	policy outbound.URLPolicy,
	stats *StatsService,
	logger *slog.Logger,
	cfg FetchConfig,
) *FetchService {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	maxInline := cfg.MaxInlineChars
	if maxInline <= 0 {
		maxInline = transform.DefaultMaxInlineChars
	}
	return &FetchService{
		fetcher:      fetcher,
		pool:         pool,
		cache:        contentCache,
		policy:       policy,
		stats:        stats,
		logger:       logger,
		cacheEnabled: cfg.CacheEnabled && contentCache != nil,
		cacheTTL:     ttl,
		maxInline:    maxInline,
	}
}

// Fetch runs the pipeline for one URL. Errors carry a taxonomy code for
// transport mapping; the tool layer renders them as isError results.
func (s *FetchService) Fetch(ctx context.Context, req inbound.FetchRequest) (*inbound.FetchResult, error) {
	start := time.Now()
	res, err := s.fetch(ctx, req)
	if err != nil {
		code := fetch.CodeOf(err)
		s.stats.RecordFetchError(code)
		s.requestLogger(ctx).Warn("fetch failed",
			"url", req.URL, "code", string(code), "error", err)
		return nil, err
	}
	s.stats.RecordFetchOK(time.Since(start))
	return res, nil
}

func (s *FetchService) fetch(ctx context.Context, req inbound.FetchRequest) (*inbound.FetchResult, error) {
	logger := s.requestLogger(ctx)

	u, err := fetch.ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}

	// The policy sees the URL as the client presented it; raw rewriting
	// happens after so policies match caller-visible hosts.
	if s.policy != nil {
		denied, reason, perr := s.policy.Deny(u)
		if perr != nil {
			return nil, fetch.WrapError(fetch.CodeBlockedHost, "URL policy evaluation failed", perr)
		}
		if denied {
			msg := "URL is denied by policy"
			if reason != "" {
				msg += ": " + reason
			}
			return nil, fetch.NewError(fetch.CodeBlockedHost, msg)
		}
	}

	target := fetch.RewriteRawURL(u)
	if target != u {
		logger.Debug("rewrote to raw content URL", "url", u.String(), "target", target.String())
	}

	maxInline := req.MaxInlineChars
	if maxInline <= 0 {
		maxInline = s.maxInline
	}

	key := cache.Key{
		Namespace:   cache.NamespaceMarkdown,
		Fingerprint: cache.Fingerprint(fetch.CanonicalURL(target), req.SkipNoiseRemoval),
	}

	if s.cacheEnabled && !req.ForceRefresh {
		if entry, ok := s.cache.Get(key); ok {
			s.stats.RecordCacheHit()
			logger.Debug("cache hit", "fingerprint", key.Fingerprint)
			return &inbound.FetchResult{
				URL:         entry.SourceURL,
				InputURL:    req.URL,
				ResolvedURL: entry.ResolvedURL,
				Title:       entry.Title,
				Markdown:    string(entry.Payload),
				Truncated:   len(entry.Payload) > maxInline,
				Resource:    &entry.Key,
				CacheHit:    true,
			}, nil
		}
		s.stats.RecordCacheMiss()
	}

	page, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	var markdown, title string
	var truncated bool
	if page.RawContent {
		// Raw bodies skip extraction, conversion, and frontmatter.
		markdown = string(page.Body)
		truncated = len(markdown) > maxInline
	} else {
		treq := transform.Request{
			HTML:             page.Body,
			URL:              page.FinalURL,
			FetchedAt:        page.FetchedAt,
			IncludeMetadata:  true,
			SkipNoiseRemoval: req.SkipNoiseRemoval,
			MaxInlineChars:   maxInline,
		}
		tstart := time.Now()
		tresp, terr := s.pool.Transform(ctx, treq)
		if terr != nil && fetch.CodeOf(terr) == fetch.CodeQueueFull {
			logger.Warn("transform queue full, running in process", "url", target.String())
			tresp, terr = s.pool.TransformInProcess(treq)
		}
		if terr != nil {
			return nil, terr
		}
		s.stats.RecordTransform(time.Since(tstart))
		markdown = tresp.Markdown
		title = tresp.Title
		truncated = tresp.Truncated
	}

	result := &inbound.FetchResult{
		URL:         target.String(),
		InputURL:    req.URL,
		ResolvedURL: page.FinalURL.String(),
		Title:       title,
		Markdown:    markdown,
		Truncated:   truncated,
	}

	if s.cacheEnabled {
		now := time.Now().UTC()
		s.cache.Set(&cache.Entry{
			Key:         key,
			Payload:     []byte(markdown),
			MIME:        cachedMIME,
			Size:        len(markdown),
			Title:       title,
			SourceURL:   result.URL,
			ResolvedURL: result.ResolvedURL,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cacheTTL),
		})
		result.Resource = &key
	}

	return result, nil
}

// requestLogger returns the request-scoped logger placed in ctx by the
// HTTP middleware, or the service logger outside a request.
func (s *FetchService) requestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return s.logger
}

// Compile-time interface verification.
var _ inbound.FetchService = (*FetchService)(nil)
