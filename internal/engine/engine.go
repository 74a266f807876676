// Package engine wires the tokenizer, index, metadata store, query executor
// and maintenance coordinator into the in-process API the binary and the
// search providers use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/maintenance"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/resilience"
)

// ErrCheckpointsDisabled is returned by Checkpoint and Restore when the
// engine was built without a checkpoint manager.
var ErrCheckpointsDisabled = errors.New("checkpoints disabled")

// Options configures an Engine.
type Options struct {
	MinTermLength int
	TermShards    int
	DefaultLimit  int
	Limits        query.Limits
	// SearchTimeout bounds one Search call; zero means no bound.
	SearchTimeout time.Duration
	Maintenance   maintenance.Options
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinTermLength: cfg.Engine.MinTermLength,
		TermShards:    cfg.Engine.TermShards,
		DefaultLimit:  cfg.Search.DefaultLimit,
		Limits: query.Limits{
			MaxLimit:      cfg.Search.MaxLimit,
			MaxQueryBytes: cfg.Search.MaxQueryBytes,
		},
		SearchTimeout: cfg.Search.Timeout,
		Maintenance:   maintenance.OptionsFromConfig(cfg.Maintenance),
	}
}

// Deps are the optional collaborators. Any field may be nil.
type Deps struct {
	Cache       *cache.QueryCache
	Checkpoints *checkpoint.Manager
	Metrics     *metrics.Metrics
}

// Engine ties the index, metadata store and maintenance coordinator
// together behind search and apply.
type Engine struct {
	opts   Options
	tok    *tokenizer.Tokenizer
	idx    *index.Store
	meta   metadata.Store
	exec   *query.Executor
	coord  *maintenance.Coordinator
	deps   Deps
	logger *slog.Logger
}

// New builds an engine over meta. The index starts empty; call Rebuild or
// Restore to populate it from existing metadata.
func New(meta metadata.Store, opts Options, deps Deps) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	e := &Engine{
		opts:   opts,
		tok:    tokenizer.New(opts.MinTermLength),
		idx:    index.NewStore(opts.TermShards),
		meta:   meta,
		deps:   deps,
		logger: slog.Default().With("component", "engine"),
	}
	e.exec = query.NewExecutor(e.tok, e.idx, meta, opts.Limits, deps.Metrics)

	mopts := opts.Maintenance
	next := mopts.OnApplied
	mopts.OnApplied = func(ev model.Event) {
		e.indexChanged()
		if next != nil {
			next(ev)
		}
	}
	e.coord = maintenance.New(e.tok, maintenance.StoreIndex{Store: e.idx}, meta, mopts, deps.Metrics)
	return e
}

// DefaultLimit is the page size callers should use when they have none.
func (e *Engine) DefaultLimit() int { return e.opts.DefaultLimit }

// Search runs req, serving it from the cache when one is configured. A
// request without a query id in ctx gets a fresh one for log correlation.
func (e *Engine) Search(ctx context.Context, req query.Request) (*query.Result, error) {
	if logger.QueryID(ctx) == "" {
		ctx = logger.WithQueryID(ctx, uuid.NewString())
	}
	if err := query.Validate(req, e.opts.Limits); err != nil {
		return nil, err
	}
	return resilience.Call(ctx, e.opts.SearchTimeout, "engine.search", func(ctx context.Context) (*query.Result, error) {
		plan := query.Parse(e.tok, req.Query)
		if e.deps.Cache == nil || len(plan.Terms) == 0 {
			return e.exec.Search(ctx, req)
		}
		res, hit, err := e.deps.Cache.GetOrCompute(ctx, plan, req, func() (*query.Result, error) {
			return e.exec.Search(ctx, req)
		})
		if hit {
			logger.FromContext(ctx).Debug("search served from cache", "total", res.Total)
		}
		return res, err
	})
}

// Apply applies one filesystem event synchronously.
func (e *Engine) Apply(ctx context.Context, ev model.Event) error {
	return e.coord.Apply(ctx, ev)
}

// Run applies events from ch until it is closed or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, ch <-chan model.Event) error {
	return e.coord.Run(ctx, ch)
}

// Rebuild re-derives the whole index from the metadata store.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := e.coord.Rebuild(ctx)
	e.indexChanged()
	if err != nil {
		return n, err
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Invalidate(ctx); err != nil {
			e.logger.Warn("cache invalidation after rebuild failed", "error", err)
		}
	}
	e.logger.Info("index build finished",
		"items", n,
		"terms", e.idx.TermCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n, nil
}

// Checkpoint writes the metadata store to the checkpoint location.
func (e *Engine) Checkpoint(ctx context.Context) (checkpoint.Info, error) {
	if e.deps.Checkpoints == nil {
		return checkpoint.Info{}, ErrCheckpointsDisabled
	}
	return e.deps.Checkpoints.Save(ctx, e.meta.Walk)
}

// Restore loads the latest checkpoint into the metadata store and rebuilds
// the index. It is meant for an empty store at startup: items absent from
// the checkpoint are left alone. checkpoint.ErrNoCheckpoint is returned
// when there is nothing to restore.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.deps.Checkpoints == nil {
		return 0, ErrCheckpointsDisabled
	}
	if _, err := e.deps.Checkpoints.Load(ctx, func(it model.Item) error {
		return e.meta.Put(ctx, it)
	}); err != nil {
		return 0, fmt.Errorf("restoring checkpoint: %w", err)
	}
	return e.Rebuild(ctx)
}

// Walk visits every item in the metadata store.
func (e *Engine) Walk(ctx context.Context, fn func(model.Item) error) error {
	return e.meta.Walk(ctx, fn)
}

// Repair replays events whose writes failed earlier.
func (e *Engine) Repair(ctx context.Context) int {
	return e.coord.Repair(ctx)
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Items          int
	Terms          int
	Postings       uint64
	PendingRepairs int
	CacheHits      int64
	CacheMisses    int64
}

// Stats reports index size, pending repairs and cache counters.
func (e *Engine) Stats() Stats {
	is := e.idx.Stats()
	s := Stats{
		Items:          is.Items,
		Terms:          is.Terms,
		Postings:       is.Postings,
		PendingRepairs: e.coord.PendingRepairs(),
	}
	if e.deps.Cache != nil {
		s.CacheHits, s.CacheMisses = e.deps.Cache.Stats()
	}
	return s
}

// Ping checks the metadata store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.meta.Count(ctx)
	return err
}

// Close releases the metadata store.
func (e *Engine) Close() error {
	return e.meta.Close()
}

func (e *Engine) indexChanged() {
	if e.deps.Cache != nil {
		e.deps.Cache.Bump()
	}
	e.deps.Metrics.SetIndexSize(e.idx.Len(), e.idx.TermCount())
}
