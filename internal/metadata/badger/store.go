// Package badger is the embedded, persistent metadata backend.
//
// Key layout:
//
//	item/<id>               JSON-encoded model.Item
//	path/<path>             owning item id
//	mime/<mime>\x00<id>     empty; <mime> is metadata.MimeKey of the type
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

const (
	prefixItem = "item/"
	prefixPath = "path/"
	prefixMime = "mime/"
)

func keyItem(id string) []byte   { return []byte(prefixItem + id) }
func keyPath(path string) []byte { return []byte(prefixPath + path) }
func keyMime(mime, id string) []byte {
	return []byte(prefixMime + metadata.MimeKey(mime) + "\x00" + id)
}

type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ metadata.Store = (*Store)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg config.BadgerConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", cfg.Dir, err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "metadata-badger"),
	}, nil
}

func (s *Store) Put(ctx context.Context, item model.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", item.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		old, found, err := getItem(txn, item.ID)
		if err != nil {
			return err
		}
		if found {
			if err := txn.Delete(keyMime(old.MimeType, old.ID)); err != nil {
				return err
			}
			if old.Path != item.Path {
				if err := releasePath(txn, old.Path, old.ID); err != nil {
					return err
				}
			}
		}
		if err := txn.Set(keyItem(item.ID), data); err != nil {
			return err
		}
		if err := txn.Set(keyPath(item.Path), []byte(item.ID)); err != nil {
			return err
		}
		return txn.Set(keyMime(item.MimeType, item.ID), nil)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.Put", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	var it model.Item
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		it, found, err = getItem(txn, id)
		return err
	})
	if err != nil {
		return model.Item{}, apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.Get", err)
	}
	if !found {
		return model.Item{}, apperrors.New(apperrors.KindNotFound, "metadata.Get", id)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		old, found, err := getItem(txn, id)
		if err != nil || !found {
			return err
		}
		if err := txn.Delete(keyItem(id)); err != nil {
			return err
		}
		if err := txn.Delete(keyMime(old.MimeType, id)); err != nil {
			return err
		}
		return releasePath(txn, old.Path, id)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.Delete", err)
	}
	return nil
}

func (s *Store) ListByMime(ctx context.Context, prefix string) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scan := []byte(prefixMime + metadata.MimeKey(prefix))
	var out []model.Item
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			sep := strings.LastIndexByte(key, 0)
			if sep < 0 {
				continue
			}
			item, found, err := getItem(txn, key[sep+1:])
			if err != nil {
				return err
			}
			if found {
				out = append(out, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.ListByMime", err)
	}
	sortByID(out)
	return out, nil
}

func (s *Store) LookupPath(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(keyPath(path))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", apperrors.New(apperrors.KindNotFound, "metadata.LookupPath", path)
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.LookupPath", err)
	}
	return id, nil
}

func (s *Store) Walk(ctx context.Context, fn func(model.Item) error) error {
	var fnErr error
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixItem)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item model.Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			if err := fn(item); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.Walk", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixItem)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return ctx.Err()
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, "metadata.Count", err)
	}
	return n, nil
}

// RunGC reclaims value-log space. It is a no-op for in-memory databases.
func (s *Store) RunGC() {
	if s.db.Opts().InMemory {
		return
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log gc failed", "error", err)
			}
			return
		}
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func getItem(txn *badger.Txn, id string) (model.Item, bool, error) {
	entry, err := txn.Get(keyItem(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Item{}, false, nil
	}
	if err != nil {
		return model.Item{}, false, err
	}
	var item model.Item
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return model.Item{}, false, fmt.Errorf("decoding item %s: %w", id, err)
	}
	return item, true, nil
}

func releasePath(txn *badger.Txn, path, id string) error {
	entry, err := txn.Get(keyPath(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var owner string
	if err := entry.Value(func(val []byte) error {
		owner = string(val)
		return nil
	}); err != nil {
		return err
	}
	if owner != id {
		return nil
	}
	return txn.Delete(keyPath(path))
}

func sortByID(items []model.Item) {
	slices.SortFunc(items, func(a, b model.Item) int { return strings.Compare(a.ID, b.ID) })
}
