package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/cache"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/observability"
)

// Key types reported to the cache hooks.
const (
	keyTypeLayout   = "layout"
	keyTypeArtifact = "artifact"
)

// Runner encapsulates pipeline execution with caching.
//
// The Runner is stateless except for the cache and logger. Multiple
// goroutines can safely use the same Runner with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
	}
}

// Execute settles g and renders the result.
func (r *Runner) Execute(ctx context.Context, g graph.Graph, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForRender(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	durable := g.Durable()
	result := &Result{BoardHash: BoardHash(durable)}
	result.Stats.EntityCount = len(durable.Entities)
	result.Stats.LinkCount = len(durable.Links)

	settleStart := time.Now()
	settled, hit, err := r.SettleWithCacheInfo(ctx, durable, opts)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	result.Board = settled.Board
	result.Stats.Ticks = settled.Ticks
	result.Stats.Settled = settled.Settled
	result.Stats.SettleTime = time.Since(settleStart)
	result.CacheInfo.SettleHit = hit

	r.Logger.Info("settled board",
		"entities", result.Stats.EntityCount,
		"ticks", settled.Ticks,
		"cached", hit,
		"duration", result.Stats.SettleTime)
	if !settled.Settled {
		r.Logger.Warn("tick budget ran out before the board cooled", "max_ticks", opts.MaxTicks)
	}

	renderStart := time.Now()
	artifacts, hit, err := r.RenderWithCacheInfo(ctx, settled.Board, opts)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	result.Artifacts = artifacts
	result.Stats.RenderTime = time.Since(renderStart)
	result.CacheInfo.RenderHit = hit

	r.Logger.Info("rendered outputs",
		"formats", opts.Formats,
		"duration", result.Stats.RenderTime)
	return result, nil
}

// SettleWithCacheInfo settles g with caching and reports whether the result
// came from the cache. A cached result reports zero ticks.
func (r *Runner) SettleWithCacheInfo(ctx context.Context, g graph.Graph, opts Options) (SettleResult, bool, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForSettle(); err != nil {
		return SettleResult{}, false, err
	}

	durable := g.Durable()
	key := r.Keyer.LayoutKey(BoardHash(durable), opts.LayoutKeyOpts())

	if !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			if board, err := graph.UnmarshalGraph(data); err == nil {
				observability.Cache().OnCacheHit(ctx, keyTypeLayout)
				return SettleResult{Board: board, Settled: true}, true, nil
			}
		}
		observability.Cache().OnCacheMiss(ctx, keyTypeLayout)
	}

	res, err := Settle(ctx, durable, opts)
	if err != nil {
		return SettleResult{}, false, err
	}

	// Budget-limited results are not cached.
	if res.Settled {
		if data, err := graph.MarshalGraph(res.Board); err == nil {
			if err := r.Cache.Set(ctx, key, data, cache.TTLLayout); err != nil {
				r.Logger.Debug("cache write failed", "key", key, "err", err)
			} else {
				observability.Cache().OnCacheSet(ctx, keyTypeLayout, len(data))
			}
		}
	}
	return res, false, nil
}

// RenderWithCacheInfo renders g with caching and reports whether every
// artifact came from the cache.
func (r *Runner) RenderWithCacheInfo(ctx context.Context, g graph.Graph, opts Options) (map[string][]byte, bool, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForRender(); err != nil {
		return nil, false, err
	}

	data, err := graph.MarshalGraph(g)
	if err != nil {
		return nil, false, fmt.Errorf("serialize board for cache key: %w", err)
	}
	layoutHash := cache.Hash(data)

	artifacts := make(map[string][]byte, len(opts.Formats))
	for _, format := range opts.Formats {
		key := r.Keyer.ArtifactKey(layoutHash, opts.ArtifactKeyOpts(format))
		data, hit, err := r.Cache.Get(ctx, key)
		if err != nil || !hit {
			break
		}
		artifacts[format] = data
	}
	if len(artifacts) == len(opts.Formats) {
		observability.Cache().OnCacheHit(ctx, keyTypeArtifact)
		return artifacts, true, nil
	}
	observability.Cache().OnCacheMiss(ctx, keyTypeArtifact)

	rendered, err := Render(ctx, g, opts)
	if err != nil {
		return nil, false, err
	}
	for format, data := range rendered {
		key := r.Keyer.ArtifactKey(layoutHash, opts.ArtifactKeyOpts(format))
		if err := r.Cache.Set(ctx, key, data, cache.TTLArtifact); err == nil {
			observability.Cache().OnCacheSet(ctx, keyTypeArtifact, len(data))
		}
	}
	return rendered, false, nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}

// BoardHash is the content hash of g in its sorted wire form.
func BoardHash(g graph.Graph) string {
	data, _ := graph.MarshalGraph(g)
	return cache.Hash(data)
}
