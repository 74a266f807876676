package maintenance

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// Index is the write side of the inverted index as the coordinator sees it.
// Errors are treated as transient and retried.
type Index interface {
	Upsert(ctx context.Context, item model.Item, terms []string) error
	Remove(ctx context.Context, itemID string) error
	Reset(ctx context.Context) error
}

// StoreIndex adapts an in-memory *index.Store. Its writes only fail when ctx
// is already done.
type StoreIndex struct {
	Store *index.Store
}

func (s StoreIndex) Upsert(ctx context.Context, item model.Item, terms []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Store.Upsert(item, terms)
	return nil
}

func (s StoreIndex) Remove(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Store.Remove(itemID)
	return nil
}

func (s StoreIndex) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Store.Reset()
	return nil
}
