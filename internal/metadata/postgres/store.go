// Package postgres stores item metadata in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		path        TEXT NOT NULL,
		is_folder   BOOLEAN NOT NULL DEFAULT FALSE,
		mime_type   TEXT NOT NULL DEFAULT '',
		size        BIGINT NOT NULL DEFAULT 0,
		modified_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS items_path_idx ON items (path)`,
	`CREATE INDEX IF NOT EXISTS items_mime_idx ON items (lower(mime_type) text_pattern_ops)`,
}

const itemColumns = `id, name, path, is_folder, mime_type, size, modified_at`

type Store struct {
	client *postgres.Client
}

var _ metadata.Store = (*Store)(nil)

// New creates the items table and its indexes if they do not exist.
func New(ctx context.Context, client *postgres.Client) (*Store, error) {
	if err := client.Exec(ctx, schema...); err != nil {
		return nil, fmt.Errorf("migrating items table: %w", err)
	}
	return &Store{client: client}, nil
}

// Put relies on the path index being non-unique: a displaced owner keeps its
// row until the coordinator deletes it, and LookupPath prefers the newest.
func (s *Store) Put(ctx context.Context, item model.Item) error {
	_, err := s.client.DB.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			path = EXCLUDED.path,
			is_folder = EXCLUDED.is_folder,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			modified_at = EXCLUDED.modified_at`,
		item.ID, item.Name, item.Path, item.IsFolder, item.MimeType, int64(item.Size), item.ModifiedAt.UTC(),
	)
	if err != nil {
		return storeErr("metadata.Put", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Item, error) {
	row := s.client.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, apperrors.New(apperrors.KindNotFound, "metadata.Get", id)
	}
	if err != nil {
		return model.Item{}, storeErr("metadata.Get", err)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.client.DB.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id); err != nil {
		return storeErr("metadata.Delete", err)
	}
	return nil
}

func (s *Store) ListByMime(ctx context.Context, prefix string) ([]model.Item, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE lower(mime_type) LIKE $1 ESCAPE '\' ORDER BY id`,
		escapeLike(metadata.MimeKey(prefix))+"%",
	)
	if err != nil {
		return nil, storeErr("metadata.ListByMime", err)
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("metadata.ListByMime", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("metadata.ListByMime", err)
	}
	return out, nil
}

func (s *Store) LookupPath(ctx context.Context, path string) (string, error) {
	var id string
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT id FROM items WHERE path = $1 ORDER BY modified_at DESC, id LIMIT 1`, path,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.New(apperrors.KindNotFound, "metadata.LookupPath", path)
	}
	if err != nil {
		return "", storeErr("metadata.LookupPath", err)
	}
	return id, nil
}

func (s *Store) Walk(ctx context.Context, fn func(model.Item) error) error {
	rows, err := s.client.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM items`)
	if err != nil {
		return storeErr("metadata.Walk", err)
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return storeErr("metadata.Walk", err)
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr("metadata.Walk", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.client.DB.QueryRowContext(ctx, `SELECT count(*) FROM items`).Scan(&n); err != nil {
		return 0, storeErr("metadata.Count", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (model.Item, error) {
	var it model.Item
	var size int64
	if err := sc.Scan(&it.ID, &it.Name, &it.Path, &it.IsFolder, &it.MimeType, &size, &it.ModifiedAt); err != nil {
		return model.Item{}, err
	}
	it.Size = uint64(size)
	it.ModifiedAt = it.ModifiedAt.UTC()
	return it, nil
}

// storeErr leaves context errors unclassified so callers can tell a cancelled
// query from an unavailable database.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(apperrors.KindStoreUnavailable, op, err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
