package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/superfetch/superfetch/internal/adapter/outbound/cel"
	"github.com/superfetch/superfetch/internal/adapter/outbound/markdown"
	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/adapter/outbound/readability"
	"github.com/superfetch/superfetch/internal/adapter/outbound/webfetch"
	"github.com/superfetch/superfetch/internal/config"
	"github.com/superfetch/superfetch/internal/domain/cache"
	"github.com/superfetch/superfetch/internal/port/outbound"
	"github.com/superfetch/superfetch/internal/service"
)

// pipeline bundles the fetch core shared by every serving command:
// the outbound fetcher, the transform pool, the optional content
// cache, and the fetch service that ties them together.
type pipeline struct {
	pool  *service.TransformService
	cache *memory.MemoryContentCache
	stats *service.StatsService
	fetch *service.FetchService
}

// buildPipeline wires the fetch pipeline from cfg. withCache false
// skips the content cache regardless of configuration; the one-shot
// fetch command uses that, since its process exits after a single call.
// Background sweepers are bound to ctx.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, withCache bool) (*pipeline, error) {
	fetcher := webfetch.New(webfetch.Config{UserAgent: cfg.Fetch.UserAgent})

	pool := service.NewTransformService(
		readability.New(),
		markdown.New(),
		logger.With("component", "transform"),
		service.PoolConfig{
			MaxWorkers:  cfg.Transform.MaxConcurrent,
			TaskTimeout: cfg.Transform.Timeout(),
		},
	)

	p := &pipeline{
		pool:  pool,
		stats: service.NewStatsService(),
	}
	if withCache && cfg.Cache.Enabled {
		p.cache = memory.NewContentCache(cache.DefaultMaxEntries)
		p.cache.StartCleanup(ctx)
	}

	var policy outbound.URLPolicy
	if cfg.Fetch.URLPolicy != "" {
		pol, err := cel.NewPolicy(cfg.Fetch.URLPolicy)
		if err != nil {
			pool.Stop()
			return nil, fmt.Errorf("invalid URL_POLICY: %w", err)
		}
		policy = pol
	}

	p.fetch = service.NewFetchService(
		fetcher,
		pool,
		p.contentCache(),
		policy,
		p.stats,
		logger.With("component", "fetch"),
		service.FetchConfig{
			CacheEnabled:   p.cache != nil,
			CacheTTL:       cfg.Cache.TTL(),
			MaxInlineChars: cfg.Transform.MaxInlineChars,
		},
	)
	return p, nil
}

// contentCache returns the cache as the outbound port, or nil when
// caching is disabled. Going through this accessor keeps a disabled
// cache a true nil interface.
func (p *pipeline) contentCache() outbound.ContentCache {
	if p.cache == nil {
		return nil
	}
	return p.cache
}

// close stops the pipeline's background work: the cache sweeper first,
// the worker pool last.
func (p *pipeline) close() {
	if p.cache != nil {
		p.cache.Stop()
	}
	p.pool.Stop()
}
