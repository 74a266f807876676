package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/memory"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLocation(t *testing.T) {
	cases := []struct {
		path, name string
		want       string
		ok         bool
	}{
		{"/report.pdf", "report.pdf", "", false},
		{"/docs/report.pdf", "report.pdf", "docs", true},
		{"/a/b/c.txt", "c.txt", "a/b", true},
		{"/Photos", "Photos", "", false},
		// A display name that differs from the last path element still gets
		// a location.
		{"/report.pdf", "Report", "", true},
	}
	for _, tc := range cases {
		got, ok := Location(tc.path, tc.name)
		require.Equal(t, tc.want, got, "%s", tc.path)
		require.Equal(t, tc.ok, ok, "%s", tc.path)
	}
}

func newSearcher(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(memory.New(4), engine.OptionsFromConfig(config.Default()), engine.Deps{})
	ctx := context.Background()
	events := []model.Event{
		{ItemID: "root-file", Type: model.EventCreate, Path: "/plans.txt", MimeType: "text/plain", ModifiedAt: t0},
		{ItemID: "dir", Type: model.EventCreate, Path: "/Plans", IsFolder: true, ModifiedAt: t0},
		{ItemID: "nested", Type: model.EventCreate, Path: "/Plans/2024/plans-q1.pdf", MimeType: "application/pdf", ModifiedAt: t0},
	}
	for _, ev := range events {
		require.NoError(t, e.Apply(ctx, ev))
	}
	return e
}

func TestFilesProvider(t *testing.T) {
	p := NewFilesProvider(newSearcher(t))
	require.Equal(t, "files", p.ID())

	res, err := p.Search(context.Background(), Query{Term: "plans"})
	require.NoError(t, err)
	require.Equal(t, "Files", res.Provider)
	require.Equal(t, 3, res.Total)
	require.False(t, res.HasMore)

	byID := map[string]Entry{}
	for _, e := range res.Entries {
		byID[e.ID] = e
	}
	require.False(t, byID["root-file"].HasLocation)
	require.Equal(t, "Plans/2024", byID["nested"].Location)
	require.True(t, byID["dir"].Folder)
	require.Equal(t, model.FolderMimeType, byID["dir"].MimeType)
}

func TestFilesProviderMimeFilterAndPaging(t *testing.T) {
	p := NewFilesProvider(newSearcher(t))
	res, err := p.Search(context.Background(), Query{Term: "plans", MimeType: "application/"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Equal(t, "nested", res.Entries[0].ID)

	page, err := p.Search(context.Background(), Query{Term: "plans", Limit: 2})
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Equal(t, 2, page.NextOffset)

	_, err = p.Search(context.Background(), Query{Term: "plans", Limit: -1})
	require.True(t, apperrors.IsInvalidQuery(err))
}

func TestFoldersProvider(t *testing.T) {
	p := NewFoldersProvider(newSearcher(t))
	res, err := p.Search(context.Background(), Query{Term: "plans"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Equal(t, "dir", res.Entries[0].ID)
	require.Equal(t, "Folders", res.Provider)
}

func TestRegistry(t *testing.T) {
	s := newSearcher(t)
	reg, err := NewRegistry(NewFoldersProvider(s), NewFilesProvider(s))
	require.NoError(t, err)

	all := reg.All()
	require.Equal(t, "files", all[0].ID())
	require.Equal(t, "folders", all[1].ID())

	p, ok := reg.Get("folders")
	require.True(t, ok)
	require.Equal(t, "Folders", p.Name())
	_, ok = reg.Get("calendar")
	require.False(t, ok)

	results, err := reg.SearchAll(context.Background(), Query{Term: "plans"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 3, results[0].Total)
	require.Equal(t, 1, results[1].Total)

	_, err = NewRegistry(NewFilesProvider(s), NewFilesProvider(s))
	require.Error(t, err)
}

func TestSearchAllPropagatesErrors(t *testing.T) {
	reg, err := NewRegistry(NewFilesProvider(newSearcher(t)))
	require.NoError(t, err)
	_, err = reg.SearchAll(context.Background(), Query{Term: fmt.Sprintf("%0*d", 5000, 0)})
	require.True(t, apperrors.IsInvalidQuery(err))
}
