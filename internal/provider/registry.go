package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Registry holds providers ordered by id.
type Registry struct {
	providers []Provider
}

// NewRegistry rejects duplicate ids.
func NewRegistry(providers ...Provider) (*Registry, error) {
	sorted := slices.Clone(providers)
	slices.SortFunc(sorted, func(a, b Provider) int { return strings.Compare(a.ID(), b.ID()) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID() == sorted[i-1].ID() {
			return nil, fmt.Errorf("duplicate provider id %q", sorted[i].ID())
		}
	}
	return &Registry{providers: sorted}, nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	i, ok := slices.BinarySearchFunc(r.providers, id, func(p Provider, id string) int {
		return strings.Compare(p.ID(), id)
	})
	if !ok {
		return nil, false
	}
	return r.providers[i], true
}

// All returns the providers ordered by ID.
func (r *Registry) All() []Provider {
	return slices.Clone(r.providers)
}

// SearchAll queries every provider concurrently. Results follow registry
// order; the first error cancels the rest.
func (r *Registry) SearchAll(ctx context.Context, q Query) ([]*Result, error) {
	results := make([]*Result, len(r.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range r.providers {
		g.Go(func() error {
			res, err := p.Search(gctx, q)
			if err != nil {
				return fmt.Errorf("provider %s: %w", p.ID(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
