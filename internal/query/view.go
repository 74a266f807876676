package query

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// view is the read set of one query. Each term's postings are captured once
// and each candidate is hydrated once, so every phase of the query sees the
// same data while writers proceed concurrently.
type view struct {
	idx      *index.Store
	meta     metadata.Store
	postings map[string]index.Postings
	items    map[string]hydrated
}

type hydrated struct {
	item model.Item
	err  error
}

func newView(idx *index.Store, meta metadata.Store) *view {
	return &view{
		idx:      idx,
		meta:     meta,
		postings: make(map[string]index.Postings),
		items:    make(map[string]hydrated),
	}
}

func (v *view) lookup(term string) index.Postings {
	if p, ok := v.postings[term]; ok {
		return p
	}
	p := v.idx.Lookup(term)
	v.postings[term] = p
	return p
}

// candidates intersects the postings of every term. It stops looking up
// further terms once a term has no postings.
func (v *view) candidates(terms []string) index.Postings {
	lists := make([]index.Postings, 0, len(terms))
	for _, t := range terms {
		p := v.lookup(t)
		if p.IsEmpty() {
			return index.Postings{}
		}
		lists = append(lists, p)
	}
	return index.Intersect(lists...)
}

func (v *view) item(ctx context.Context, id string) (model.Item, error) {
	if h, ok := v.items[id]; ok {
		return h.item, h.err
	}
	it, err := v.meta.Get(ctx, id)
	v.items[id] = hydrated{item: it, err: err}
	return it, err
}
