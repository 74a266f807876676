// Package metadatatest holds the behaviour every metadata.Store backend must
// share. Backend packages call Run from their own tests.
package metadatatest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

// Factory returns an empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) metadata.Store

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func Item(id, path, mime string) model.Item {
	return model.Event{
		ItemID:     id,
		Type:       model.EventCreate,
		Path:       path,
		MimeType:   mime,
		Size:       42,
		ModifiedAt: baseTime,
	}.Item()
}

func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutReplacesPath", func(t *testing.T) { testPutReplacesPath(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListByMime", func(t *testing.T) { testListByMime(t, newStore(t)) })
	t.Run("Walk", func(t *testing.T) { testWalk(t, newStore(t)) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, newStore(t)) })
}

func testPutGet(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	want := Item("a", "/docs/report.pdf", "application/pdf")
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, "report.pdf", got.Name)
	require.Equal(t, want.Path, got.Path)
	require.Equal(t, want.MimeType, got.MimeType)
	require.Equal(t, want.Size, got.Size)
	require.True(t, want.ModifiedAt.Equal(got.ModifiedAt))

	id, err := s.LookupPath(ctx, "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, "a", id)

	// Put is idempotent.
	require.NoError(t, s.Put(ctx, want))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func testGetMissing(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, "nope")
	require.True(t, apperrors.IsNotFound(err), "got %v", err)
	_, err = s.LookupPath(ctx, "/nope")
	require.True(t, apperrors.IsNotFound(err), "got %v", err)
}

func testPutReplacesPath(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Item("a", "/old/name.txt", "text/plain")))
	moved := Item("a", "/new/other.txt", "text/plain")
	moved.ModifiedAt = baseTime.Add(time.Minute)
	require.NoError(t, s.Put(ctx, moved))

	_, err := s.LookupPath(ctx, "/old/name.txt")
	require.True(t, apperrors.IsNotFound(err), "got %v", err)
	id, err := s.LookupPath(ctx, "/new/other.txt")
	require.NoError(t, err)
	require.Equal(t, "a", id)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "other.txt", got.Name)
}

func testDelete(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Item("a", "/a.txt", "text/plain")))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	require.True(t, apperrors.IsNotFound(err))
	_, err = s.LookupPath(ctx, "/a.txt")
	require.True(t, apperrors.IsNotFound(err))
	items, err := s.ListByMime(ctx, "text/")
	require.NoError(t, err)
	require.Empty(t, items)
}

func testListByMime(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Item("c", "/c.png", "image/png")))
	require.NoError(t, s.Put(ctx, Item("a", "/a.jpg", "image/JPEG")))
	require.NoError(t, s.Put(ctx, Item("b", "/b.txt", "text/plain")))
	require.NoError(t, s.Put(ctx, Item("d", "/d_x", "text/x_y")))

	ids := func(prefix string) []string {
		items, err := s.ListByMime(ctx, prefix)
		require.NoError(t, err)
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}
	require.Equal(t, []string{"a", "c"}, ids("image/"))
	require.Equal(t, []string{"a"}, ids("image/jpeg"))
	require.Equal(t, []string{"a", "b", "c", "d"}, ids(""))
	require.Equal(t, []string{"d"}, ids("text/x_"))
	require.Empty(t, ids("video/"))

	// Mime changes move the item between prefixes.
	retyped := Item("c", "/c.png", "application/octet-stream")
	require.NoError(t, s.Put(ctx, retyped))
	require.Equal(t, []string{"a"}, ids("image/"))
}

func testWalk(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	for i := range 25 {
		require.NoError(t, s.Put(ctx, Item(fmt.Sprintf("id-%02d", i), fmt.Sprintf("/f%02d", i), "text/plain")))
	}
	seen := map[string]bool{}
	require.NoError(t, s.Walk(ctx, func(it model.Item) error {
		seen[it.ID] = true
		return nil
	}))
	require.Len(t, seen, 25)

	stop := errors.New("stop")
	calls := 0
	err := s.Walk(ctx, func(model.Item) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func testConcurrentPut(t *testing.T, s metadata.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := s.Put(ctx, Item(id, "/"+id, "text/plain")); err != nil {
					t.Errorf("put %s: %v", id, err)
				}
			}
		}()
	}
	wg.Wait()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, n)
}
