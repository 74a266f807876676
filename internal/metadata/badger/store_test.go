package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/metadatatest"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	metadatatest.Run(t, func(t *testing.T) metadata.Store { return openInMemory(t) })
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(config.BadgerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, metadatatest.Item("a", "/photos/cat.jpg", "image/jpeg")))
	s.RunGC()
	require.NoError(t, s.Close())

	s, err = Open(config.BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "cat.jpg", got.Name)
	items, err := s.ListByMime(ctx, "image/")
	require.NoError(t, err)
	require.Len(t, items, 1)
}
