// Package metadata defines the item metadata store used to hydrate query
// candidates and to resolve path ownership during maintenance.
//
// Three backends implement Store: an in-process sharded map (memory), an
// embedded BadgerDB database (badger) and a PostgreSQL table (postgres).
// All of them report missing items with apperrors.ErrNotFound and any other
// backend failure with apperrors.ErrStoreUnavailable.
package metadata

import (
	"context"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// Store is safe for concurrent use.
type Store interface {
	// Put inserts or replaces the item with item.ID. The path index is moved
	// to item.Path; a previous owner of that path is not touched.
	Put(ctx context.Context, item model.Item) error

	Get(ctx context.Context, id string) (model.Item, error)

	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error

	// ListByMime returns items whose mime type starts with prefix,
	// case-insensitively, ordered by id. An empty prefix lists every item.
	ListByMime(ctx context.Context, prefix string) ([]model.Item, error)

	// LookupPath returns the id of the item currently at path.
	LookupPath(ctx context.Context, path string) (string, error)

	// Walk calls fn for every item until fn returns an error.
	Walk(ctx context.Context, fn func(model.Item) error) error

	Count(ctx context.Context) (int, error)

	Close() error
}

// MimeKey is the case-folded form under which mime types are indexed.
func MimeKey(mime string) string {
	return strings.ToLower(strings.TrimSpace(mime))
}
