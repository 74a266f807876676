package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/memory"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	tok  *tokenizer.Tokenizer
	idx  *index.Store
	meta metadata.Store
	exec *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tok := tokenizer.Default()
	idx := index.NewStore(4)
	meta := memory.New(4)
	return &fixture{
		tok:  tok,
		idx:  idx,
		meta: meta,
		exec: NewExecutor(tok, idx, meta, Limits{MaxLimit: 100, MaxQueryBytes: 64}, nil),
	}
}

func (f *fixture) add(t *testing.T, it model.Item) {
	t.Helper()
	if it.Name == "" {
		it.Name = it.Path[len(it.Path)-len(baseName(it.Path)):]
	}
	require.NoError(t, f.meta.Put(context.Background(), it))
	f.idx.Upsert(it, f.tok.Normalize(it.SearchText()))
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func (f *fixture) search(t *testing.T, q string, limit, offset int, filters model.Filters) *Result {
	t.Helper()
	res, err := f.exec.Search(context.Background(), Request{Query: q, Limit: limit, Offset: offset, Filters: filters})
	require.NoError(t, err)
	return res
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestSearchANDSemantics(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/work/budget-2024.xlsx", ModifiedAt: t0})
	f.add(t, model.Item{ID: "2", Path: "/work/budget-2023.xlsx", ModifiedAt: t0})
	f.add(t, model.Item{ID: "3", Path: "/home/2024/photos", IsFolder: true, ModifiedAt: t0})

	res := f.search(t, "budget 2024", 10, 0, model.Filters{})
	require.Equal(t, []string{"1"}, ids(res.Entries))
	require.False(t, res.HasMore)

	res = f.search(t, "budget nothing", 10, 0, model.Filters{})
	require.Empty(t, res.Entries)
}

func TestSearchEmptyQueryMatchesNothing(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/a.txt", ModifiedAt: t0})
	for _, q := range []string{"", "   ", "--//.."} {
		res := f.search(t, q, 10, 0, model.Filters{})
		require.Empty(t, res.Entries, q)
		require.NotNil(t, res.Entries)
	}
}

func TestSearchDuplicateTermsCollapse(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/notes/notes.md", ModifiedAt: t0})
	res := f.search(t, "notes NOTES notes", 10, 0, model.Filters{})
	require.Equal(t, []string{"1"}, ids(res.Entries))
}

func TestSearchDiacriticInsensitive(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/Recettes/Crème Brûlée.pdf", ModifiedAt: t0})
	res := f.search(t, "creme brulee", 10, 0, model.Filters{})
	require.Equal(t, []string{"1"}, ids(res.Entries))
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "img", Path: "/trip/beach.jpg", MimeType: "image/jpeg", ModifiedAt: t0})
	f.add(t, model.Item{ID: "png", Path: "/trip/map.png", MimeType: "image/png", ModifiedAt: t0})
	f.add(t, model.Item{ID: "doc", Path: "/trip/plan.pdf", MimeType: "application/pdf", ModifiedAt: t0})
	f.add(t, model.Item{ID: "dir", Path: "/trip", IsFolder: true, MimeType: model.FolderMimeType, ModifiedAt: t0})

	require.ElementsMatch(t, []string{"img", "png"}, ids(f.search(t, "trip", 10, 0, model.Filters{MimeType: "image/"}).Entries))
	require.Equal(t, []string{"img"}, ids(f.search(t, "trip", 10, 0, model.Filters{MimeType: "IMAGE/JPEG"}).Entries))
	require.Equal(t, []string{"dir"}, ids(f.search(t, "trip", 10, 0, model.Filters{FolderOnly: true}).Entries))
}

func TestSearchRanking(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "deep", Path: "/report/archive/q1.pdf", ModifiedAt: t0.Add(3 * time.Hour)})
	f.add(t, model.Item{ID: "prefix-old", Path: "/x/report-final.pdf", ModifiedAt: t0})
	f.add(t, model.Item{ID: "prefix-new", Path: "/y/report-draft.pdf", ModifiedAt: t0.Add(time.Hour)})
	f.add(t, model.Item{ID: "exact", Path: "/z/Report.pdf", ModifiedAt: t0.Add(-time.Hour)})
	f.add(t, model.Item{ID: "exact-dir", Path: "/report", IsFolder: true, ModifiedAt: t0.Add(-time.Hour)})

	res := f.search(t, "report", 10, 0, model.Filters{})
	require.Equal(t, []string{"exact", "exact-dir", "prefix-new", "prefix-old", "deep"}, ids(res.Entries))
}

func TestRankerTiers(t *testing.T) {
	r := NewRanker(tokenizer.Default())
	plan := Parse(tokenizer.Default(), "annual report")
	cases := []struct {
		name string
		item model.Item
		want Tier
	}{
		{"folded exact", model.Item{Name: "Annual Report"}, TierExactName},
		{"exact without extension", model.Item{Name: "annual_report.docx"}, TierExactName},
		{"prefix", model.Item{Name: "Annual Report 2024.pdf"}, TierNamePrefix},
		{"elsewhere", model.Item{Name: "report annual.txt"}, TierPath},
		{"folder keeps dots", model.Item{Name: "annual.report.d", IsFolder: true}, TierNamePrefix},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, r.TierOf(plan, tc.item))
		})
	}
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t)
	for i := range 7 {
		f.add(t, model.Item{ID: fmt.Sprintf("d%d", i), Path: fmt.Sprintf("/docs/doc-%d.txt", i), ModifiedAt: t0.Add(time.Duration(i%3) * time.Minute)})
	}
	all := f.search(t, "doc", 4, 0, model.Filters{})
	require.True(t, all.HasMore)
	require.Equal(t, 7, all.Total)

	first := f.search(t, "doc", 2, 0, model.Filters{})
	second := f.search(t, "doc", 2, 2, model.Filters{})
	require.True(t, second.HasMore)
	require.Equal(t, ids(all.Entries), append(ids(first.Entries), ids(second.Entries)...))

	last := f.search(t, "doc", 5, 5, model.Filters{})
	require.Len(t, last.Entries, 2)
	require.False(t, last.HasMore)

	past := f.search(t, "doc", 5, 50, model.Filters{})
	require.Empty(t, past.Entries)
	require.False(t, past.HasMore)
}

func TestSearchDropsStaleReferences(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "live", Path: "/a/report.txt", ModifiedAt: t0})
	ghost := model.Item{ID: "ghost", Path: "/b/report.txt"}
	f.idx.Upsert(ghost, f.tok.Normalize(ghost.Path))

	res := f.search(t, "report", 10, 0, model.Filters{})
	require.Equal(t, []string{"live"}, ids(res.Entries))
}

func TestSearchDropsCandidatesRenamedAfterLookup(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/old-name.txt", ModifiedAt: t0})
	// Metadata already renamed, index not yet updated.
	require.NoError(t, f.meta.Put(context.Background(), model.Item{ID: "1", Name: "new.txt", Path: "/new.txt", ModifiedAt: t0}))

	res := f.search(t, "old", 10, 0, model.Filters{})
	require.Empty(t, res.Entries)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t)
	bad := []Request{
		{Query: "x", Limit: 0},
		{Query: "x", Limit: 101},
		{Query: "x", Limit: 1, Offset: -1},
		{Query: string(make([]byte, 65)), Limit: 1},
		{Query: "x", Limit: 1, Filters: model.Filters{MimeType: "image"}},
		{Query: "x", Limit: 1, Filters: model.Filters{MimeType: "/png"}},
		{Query: "x", Limit: 1, Filters: model.Filters{MimeType: "image/png/x"}},
		{Query: "x", Limit: 1, Filters: model.Filters{MimeType: "im age/"}},
	}
	for _, req := range bad {
		_, err := f.exec.Search(context.Background(), req)
		require.True(t, apperrors.IsInvalidQuery(err), "request %+v: %v", req, err)
	}
	for _, mime := range []string{"image/", "image/svg+xml", "application/vnd.ms-excel"} {
		require.NoError(t, Validate(Request{Query: "x", Limit: 1, Filters: model.Filters{MimeType: mime}}, Limits{}))
	}
}

type failingStore struct {
	metadata.Store
	err error
}

func (s failingStore) Get(context.Context, string) (model.Item, error) {
	return model.Item{}, s.err
}

func TestSearchStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/report.txt", ModifiedAt: t0})
	exec := NewExecutor(f.tok, f.idx, failingStore{Store: f.meta, err: errors.New("disk on fire")}, Limits{MaxLimit: 10}, nil)

	_, err := exec.Search(context.Background(), Request{Query: "report", Limit: 10})
	require.True(t, apperrors.IsStoreUnavailable(err), "got %v", err)
}

func TestSearchCancelled(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/report.txt", ModifiedAt: t0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Search(ctx, Request{Query: "report", Limit: 10})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, apperrors.IsStoreUnavailable(err))
}

func TestSearchAfterDelete(t *testing.T) {
	f := newFixture(t)
	f.add(t, model.Item{ID: "1", Path: "/report.txt", ModifiedAt: t0})
	f.idx.Remove("1")
	require.NoError(t, f.meta.Delete(context.Background(), "1"))

	require.Empty(t, f.search(t, "report", 10, 0, model.Filters{}).Entries)
	_, err := f.meta.Get(context.Background(), "1")
	require.True(t, apperrors.IsNotFound(err))
}

func BenchmarkSearch(b *testing.B) {
	tok := tokenizer.Default()
	idx := index.NewStore(index.DefaultShards)
	meta := memory.New(32)
	words := []string{"distributed", "search", "analytics", "platform", "indexing", "query", "engine", "ranking"}
	for i := range 10000 {
		it := model.Item{
			ID:         fmt.Sprintf("item-%d", i),
			Path:       fmt.Sprintf("/%s/%s/file-%d.txt", words[i%len(words)], words[(i+1)%len(words)], i),
			ModifiedAt: t0.Add(time.Duration(i) * time.Second),
		}
		it.Name = baseName(it.Path)
		_ = meta.Put(context.Background(), it)
		idx.Upsert(it, tok.Normalize(it.SearchText()))
	}
	exec := NewExecutor(tok, idx, meta, Limits{MaxLimit: 100}, nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := words[i%len(words)] + " " + words[(i+1)%len(words)]
		if _, err := exec.Search(context.Background(), Request{Query: q, Limit: 20}); err != nil {
			b.Fatal(err)
		}
	}
}
