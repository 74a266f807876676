// Package maintenance applies filesystem change events to the metadata store
// and the inverted index.
//
// Events for one item id are serialized by a keyed lock and ordered by their
// ModifiedAt: an event older than the last one applied for its id is dropped.
// Each store write is retried with exponential backoff. When the index half
// of a write fails for good, the metadata half is compensated so the item is
// hidden rather than half-indexed, and the event is queued for the repair
// loop.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/resilience"
)

// ErrInvalidEvent is returned for events that cannot be applied at all.
var ErrInvalidEvent = errors.New("invalid event")

// displacementAttempts bounds how often Apply re-reads a path owner that
// keeps changing under it.
const displacementAttempts = 3

// Options tunes a Coordinator. Zero values select defaults in New.
type Options struct {
	Workers         int
	QueueSize       int
	Retry           resilience.RetryConfig
	RepairInterval  time.Duration
	TombstoneTTL    time.Duration
	EventsPerSecond float64
	// OnApplied runs after every successfully applied event.
	OnApplied func(model.Event)
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// OptionsFromConfig maps the maintenance config section onto Options.
func OptionsFromConfig(cfg config.MaintenanceConfig) Options {
	return Options{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.RetryAttempts,
			InitialDelay:   cfg.RetryDelay,
			MaxDelay:       cfg.RetryMaxDelay,
			Multiplier:     2,
			JitterFraction: 0.2,
		},
		RepairInterval:  cfg.RepairInterval,
		TombstoneTTL:    cfg.TombstoneTTL,
		EventsPerSecond: cfg.EventsPerSecond,
	}
}

// Coordinator applies change events to the index and metadata store so
// both stay consistent under concurrent and out-of-order delivery.
type Coordinator struct {
	tok      *tokenizer.Tokenizer
	idx      Index
	meta     metadata.Store
	opts     Options
	locks    *keyedLocker
	versions *versionTable
	repair   *repairQueue
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// New returns a Coordinator writing to idx and meta. m may be nil.
func New(tok *tokenizer.Tokenizer, idx Index, meta metadata.Store, opts Options, m *metrics.Metrics) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.RepairInterval <= 0 {
		opts.RepairInterval = 10 * time.Second
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		tok:      tok,
		idx:      idx,
		meta:     meta,
		opts:     opts,
		locks:    newKeyedLocker(64),
		versions: newVersionTable(64, opts.Clock),
		repair:   newRepairQueue(opts.QueueSize),
		metrics:  m,
		validate: validator.New(),
		logger:   slog.Default().With("component", "maintenance"),
	}
}

// Apply applies one event synchronously. Stale events are dropped without
// error. A failed write is queued for repair and reported as
// apperrors.ErrMaintenanceWrite.
func (c *Coordinator) Apply(ctx context.Context, ev model.Event) error {
	if err := c.check(ev); err != nil {
		c.metrics.Event(string(ev.Type), "invalid")
		return err
	}
	if ev.ModifiedAt.IsZero() {
		ev.ModifiedAt = c.opts.Clock()
	}
	return c.apply(ctx, ev)
}

func (c *Coordinator) check(ev model.Event) error {
	if err := c.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.Type != model.EventDelete && ev.Path == "" {
		return fmt.Errorf("%w: %s event for %s has no path", ErrInvalidEvent, ev.Type, ev.ItemID)
	}
	return nil
}

func (c *Coordinator) apply(ctx context.Context, ev model.Event) error {
	if ev.Type == model.EventDelete {
		unlock := c.locks.Lock(ev.ItemID)
		defer unlock()
		return c.deleteLocked(ctx, ev)
	}

	item := ev.Item()
	for attempt := 1; ; attempt++ {
		holder, err := c.pathHolder(ctx, item)
		if err != nil {
			return c.fail(ctx, ev, err)
		}
		unlock := c.locks.Lock(item.ID, holder)
		current, err := c.pathHolder(ctx, item)
		if err != nil {
			unlock()
			return c.fail(ctx, ev, err)
		}
		if current != holder && attempt < displacementAttempts {
			unlock()
			continue
		}
		if current != holder {
			// The owner we did not lock is left alone.
			current = ""
		}
		err = c.upsertLocked(ctx, ev, item, current)
		unlock()
		return err
	}
}

func (c *Coordinator) deleteLocked(ctx context.Context, ev model.Event) error {
	if c.versions.stale(ev.ItemID, ev.ModifiedAt, true) {
		return c.dropStale(ev)
	}
	if err := c.removeItem(ctx, ev.ItemID); err != nil {
		return c.fail(ctx, ev, err)
	}
	c.versions.record(ev.ItemID, ev.ModifiedAt, true)
	c.applied(ev)
	return nil
}

// upsertLocked writes item to both stores. displaced, when set, is another
// live item currently holding item.Path; both ids are locked by the caller.
func (c *Coordinator) upsertLocked(ctx context.Context, ev model.Event, item model.Item, displaced string) error {
	if c.versions.stale(item.ID, ev.ModifiedAt, false) {
		return c.dropStale(ev)
	}
	if displaced != "" {
		if err := c.removeItem(ctx, displaced); err != nil {
			return c.fail(ctx, ev, err)
		}
		c.versions.record(displaced, ev.ModifiedAt, true)
		c.logger.Info("item displaced from path",
			"path", item.Path,
			"item_id", item.ID,
			"displaced_id", displaced,
		)
	}

	if err := c.retry(ctx, "metadata.put", func() error { return c.meta.Put(ctx, item) }); err != nil {
		c.metrics.RetriesExhausted("metadata")
		return c.fail(ctx, ev, err)
	}
	terms := c.tok.Normalize(item.SearchText())
	if err := c.retry(ctx, "index.upsert", func() error { return c.idx.Upsert(ctx, item, terms) }); err != nil {
		c.metrics.RetriesExhausted("index")
		// Hide the item until the event is repaired.
		if derr := c.retry(ctx, "metadata.compensate", func() error { return c.meta.Delete(ctx, item.ID) }); derr != nil {
			c.logger.Warn("compensating metadata delete failed",
				"item_id", item.ID,
				"error", derr,
			)
		}
		return c.fail(ctx, ev, err)
	}
	c.versions.record(item.ID, ev.ModifiedAt, false)
	c.applied(ev)
	return nil
}

// removeItem drops postings before metadata so no query can find an id whose
// metadata is already gone and then see it reappear.
func (c *Coordinator) removeItem(ctx context.Context, id string) error {
	if err := c.retry(ctx, "index.remove", func() error { return c.idx.Remove(ctx, id) }); err != nil {
		c.metrics.RetriesExhausted("index")
		return err
	}
	if err := c.retry(ctx, "metadata.delete", func() error { return c.meta.Delete(ctx, id) }); err != nil {
		c.metrics.RetriesExhausted("metadata")
		return err
	}
	return nil
}

// pathHolder returns the id of a different live item at item.Path, or "".
func (c *Coordinator) pathHolder(ctx context.Context, item model.Item) (string, error) {
	var holder string
	err := c.retry(ctx, "metadata.lookup_path", func() error {
		id, err := c.meta.LookupPath(ctx, item.Path)
		if apperrors.IsNotFound(err) {
			holder = ""
			return nil
		}
		holder = id
		return err
	})
	if err != nil {
		return "", err
	}
	if holder == item.ID {
		return "", nil
	}
	return holder, nil
}

func (c *Coordinator) retry(ctx context.Context, name string, fn func() error) error {
	return resilience.Retry(ctx, name, c.opts.Retry, fn)
}

func (c *Coordinator) dropStale(ev model.Event) error {
	c.metrics.Event(string(ev.Type), "stale")
	c.logger.Debug("dropping stale event",
		"item_id", ev.ItemID,
		"event_type", ev.Type,
		"modified_at", ev.ModifiedAt,
	)
	return nil
}

func (c *Coordinator) applied(ev model.Event) {
	c.metrics.Event(string(ev.Type), "applied")
	if c.opts.OnApplied != nil {
		c.opts.OnApplied(ev)
	}
}

// fail queues ev for repair unless the caller gave up on it.
func (c *Coordinator) fail(ctx context.Context, ev model.Event, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("applying %s event for %s: %w", ev.Type, ev.ItemID, ctx.Err())
	}
	queued := c.repair.push(ev)
	c.metrics.Event(string(ev.Type), "failed")
	c.metrics.SetRepairQueueDepth(c.repair.len())
	c.logger.Warn("maintenance write failed",
		"item_id", ev.ItemID,
		"event_type", ev.Type,
		"queued_for_repair", queued,
		"error", err,
	)
	return apperrors.Wrap(apperrors.KindMaintenanceWrite, "maintenance.Apply", err)
}

// Rebuild clears the index and re-derives it from the metadata store. It is
// meant to run before Run starts; events applied concurrently win over the
// rebuilt state when they are newer.
func (c *Coordinator) Rebuild(ctx context.Context) (int, error) {
	if err := c.idx.Reset(ctx); err != nil {
		return 0, fmt.Errorf("resetting index: %w", err)
	}
	c.versions.reset()
	n := 0
	err := c.meta.Walk(ctx, func(it model.Item) error {
		unlock := c.locks.Lock(it.ID)
		defer unlock()
		if c.versions.stale(it.ID, it.ModifiedAt, false) {
			return nil
		}
		terms := c.tok.Normalize(it.SearchText())
		if err := c.retry(ctx, "index.upsert", func() error { return c.idx.Upsert(ctx, it, terms) }); err != nil {
			return fmt.Errorf("indexing %s: %w", it.ID, err)
		}
		c.versions.record(it.ID, it.ModifiedAt, false)
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("rebuilding index: %w", err)
	}
	c.logger.Info("index rebuilt", "items", n)
	return n, nil
}

// PendingRepairs reports how many events wait for the repair loop.
func (c *Coordinator) PendingRepairs() int {
	return c.repair.len()
}
