// Package memory is the in-process metadata backend. Items are sharded by id;
// the path index is sharded by path and the mime index lives beside the items
// of each shard, so no operation takes a store-wide lock.
package memory

import (
	"context"
	"hash/fnv"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

const DefaultShards = 32

type itemShard struct {
	mu     sync.RWMutex
	items  map[string]model.Item
	byMime map[string]map[string]struct{}
}

type pathShard struct {
	mu    sync.RWMutex
	owner map[string]string
}

type Store struct {
	items []*itemShard
	paths []*pathShard
}

var _ metadata.Store = (*Store)(nil)

func New(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Store{
		items: make([]*itemShard, shards),
		paths: make([]*pathShard, shards),
	}
	for i := range shards {
		s.items[i] = &itemShard{
			items:  make(map[string]model.Item),
			byMime: make(map[string]map[string]struct{}),
		}
		s.paths[i] = &pathShard{owner: make(map[string]string)}
	}
	return s
}

func (s *Store) Put(ctx context.Context, item model.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.items[s.shardOf(item.ID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.items[item.ID]; ok {
		sh.unindexMime(old)
		if old.Path != item.Path {
			s.releasePath(old.Path, old.ID)
		}
	}
	sh.items[item.ID] = item
	sh.indexMime(item)

	ps := s.paths[s.shardOf(item.Path)]
	ps.mu.Lock()
	ps.owner[item.Path] = item.ID
	ps.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	sh := s.items[s.shardOf(id)]
	sh.mu.RLock()
	it, ok := sh.items[id]
	sh.mu.RUnlock()
	if !ok {
		return model.Item{}, apperrors.New(apperrors.KindNotFound, "metadata.Get", id)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.items[s.shardOf(id)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, ok := sh.items[id]
	if !ok {
		return nil
	}
	delete(sh.items, id)
	sh.unindexMime(old)
	s.releasePath(old.Path, id)
	return nil
}

func (s *Store) ListByMime(ctx context.Context, prefix string) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = metadata.MimeKey(prefix)
	var out []model.Item
	for _, sh := range s.items {
		sh.mu.RLock()
		for mime, ids := range sh.byMime {
			if !strings.HasPrefix(mime, prefix) {
				continue
			}
			for id := range ids {
				out = append(out, sh.items[id])
			}
		}
		sh.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b model.Item) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) LookupPath(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ps := s.paths[s.shardOf(path)]
	ps.mu.RLock()
	id, ok := ps.owner[path]
	ps.mu.RUnlock()
	if !ok {
		return "", apperrors.New(apperrors.KindNotFound, "metadata.LookupPath", path)
	}
	return id, nil
}

// Walk visits a copy of each shard so fn may call back into the store.
func (s *Store) Walk(ctx context.Context, fn func(model.Item) error) error {
	for _, sh := range s.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.mu.RLock()
		batch := make([]model.Item, 0, len(sh.items))
		for _, it := range sh.items {
			batch = append(batch, it)
		}
		sh.mu.RUnlock()
		for _, it := range batch {
			if err := fn(it); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, sh := range s.items {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n, nil
}

func (s *Store) Close() error { return nil }

// releasePath drops the path mapping only while id still owns it.
func (s *Store) releasePath(path, id string) {
	ps := s.paths[s.shardOf(path)]
	ps.mu.Lock()
	if ps.owner[path] == id {
		delete(ps.owner, path)
	}
	ps.mu.Unlock()
}

func (sh *itemShard) indexMime(it model.Item) {
	key := metadata.MimeKey(it.MimeType)
	ids, ok := sh.byMime[key]
	if !ok {
		ids = make(map[string]struct{})
		sh.byMime[key] = ids
	}
	ids[it.ID] = struct{}{}
}

func (sh *itemShard) unindexMime(it model.Item) {
	key := metadata.MimeKey(it.MimeType)
	if ids, ok := sh.byMime[key]; ok {
		delete(ids, it.ID)
		if len(ids) == 0 {
			delete(sh.byMime, key)
		}
	}
}

func (s *Store) shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.items)))
}
