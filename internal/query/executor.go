package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/tracing"
)

// Result is one page of ranked matches.
type Result struct {
	Entries []model.Item `json:"entries"`
	HasMore bool         `json:"has_more"`
	// Total counts every ranked match, not just this page.
	Total int `json:"total"`
}

// cancelCheckEvery bounds how many candidates are hydrated between context
// checks.
const cancelCheckEvery = 64

// Executor answers search requests from the term index and metadata store.
type Executor struct {
	tok     *tokenizer.Tokenizer
	idx     *index.Store
	meta    metadata.Store
	ranker  *Ranker
	limits  Limits
	metrics *metrics.Metrics
}

// NewExecutor returns an Executor enforcing limits. m may be nil.
func NewExecutor(tok *tokenizer.Tokenizer, idx *index.Store, meta metadata.Store, limits Limits, m *metrics.Metrics) *Executor {
	return &Executor{
		tok:     tok,
		idx:     idx,
		meta:    meta,
		ranker:  NewRanker(tok),
		limits:  limits,
		metrics: m,
	}
}

// Limits reports the request bounds the executor enforces.
func (e *Executor) Limits() Limits { return e.limits }

// Search runs req against a per-query view of the stores. Only InvalidQuery,
// StoreUnavailable and context errors are returned.
func (e *Executor) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "query.search", logger.QueryID(ctx))
	log := logger.FromContext(ctx).With("component", "query-executor")
	defer span.Finish(ctx, log)

	res, err := e.search(ctx, req)
	outcome := "ok"
	switch {
	case err == nil && res.Total == 0:
		outcome = "zero_result"
	case apperrors.IsInvalidQuery(err):
		outcome = "invalid"
	case apperrors.IsStoreUnavailable(err):
		outcome = "unavailable"
	case err != nil:
		outcome = "cancelled"
	}
	total := 0
	if res != nil {
		total = res.Total
	}
	e.metrics.ObserveSearch(outcome, "bypass", total, time.Since(start))
	span.SetAttr("outcome", outcome)
	if err != nil {
		log.Debug("search failed", "error", err)
		return nil, err
	}
	log.Debug("query executed",
		"total", res.Total,
		"returned", len(res.Entries),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (e *Executor) search(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req, e.limits); err != nil {
		return nil, err
	}
	plan := Parse(e.tok, req.Query)
	if len(plan.Terms) == 0 {
		return &Result{Entries: []model.Item{}}, nil
	}
	v := newView(e.idx, e.meta)

	_, lookupSpan := tracing.StartChildSpan(ctx, "query.lookup")
	candidates := v.candidates(plan.Terms)
	ids := candidates.IDs()
	lookupSpan.SetAttr("terms", len(plan.Terms))
	lookupSpan.SetAttr("candidates", len(ids))
	lookupSpan.End()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search cancelled after lookup: %w", err)
	}

	_, hydrateSpan := tracing.StartChildSpan(ctx, "query.hydrate")
	items, err := e.hydrate(ctx, v, plan, ids, req.Filters)
	hydrateSpan.SetAttr("matched", len(items))
	hydrateSpan.End()
	if err != nil {
		return nil, err
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "query.rank")
	e.ranker.Rank(plan, items)
	rankSpan.End()

	return paginate(items, req.Offset, req.Limit), nil
}

// hydrate resolves candidate ids to items, dropping stale references and
// items that fail the filters.
func (e *Executor) hydrate(ctx context.Context, v *view, plan Plan, ids []string, filters model.Filters) ([]model.Item, error) {
	items := make([]model.Item, 0, len(ids))
	for i, id := range ids {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("search cancelled during hydration: %w", err)
			}
		}
		it, err := v.item(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				e.staleReference(ctx, id, "metadata missing")
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("search cancelled during hydration: %w", err)
			}
			return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "query.hydrate", err)
		}
		// A rename between lookup and hydration leaves metadata that no
		// longer carries every term.
		if !containsAll(e.tok.Normalize(it.SearchText()), plan.Terms) {
			e.staleReference(ctx, id, "terms no longer match")
			continue
		}
		if !filters.Match(it) {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (e *Executor) staleReference(ctx context.Context, id, reason string) {
	e.metrics.StaleReference()
	logger.FromContext(ctx).Debug("dropping candidate",
		"item_id", id,
		"reason", reason,
		"error", apperrors.ErrStaleIndexReference,
	)
}

func paginate(items []model.Item, offset, limit int) *Result {
	total := len(items)
	if offset >= total {
		return &Result{Entries: []model.Item{}, Total: total}
	}
	end := min(offset+limit, total)
	return &Result{
		Entries: slices.Clone(items[offset:end]),
		HasMore: end < total,
		Total:   total,
	}
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
