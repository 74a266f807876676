// Package provider exposes the engine as named search providers whose
// entries carry what a presentation layer needs: a title, a location
// subline and a folder flag for icon selection.
package provider

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/query"
)

// Searcher is the engine as seen by providers.
type Searcher interface {
	Search(ctx context.Context, req query.Request) (*query.Result, error)
	DefaultLimit() int
}

// Provider is a named source of search results.
type Provider interface {
	ID() string
	Name() string
	Search(ctx context.Context, q Query) (*Result, error)
}

// Query is a provider-level request. A zero Limit means the engine default.
type Query struct {
	Term     string
	Limit    int
	Offset   int
	MimeType string
}

// Entry is one item as presented by a provider.
type Entry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	MimeType   string    `json:"mime_type"`
	Folder     bool      `json:"folder"`
	Size       uint64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	// Location is the containing directory without its leading slash. It is
	// empty and HasLocation false for items directly under the root.
	Location    string `json:"location,omitempty"`
	HasLocation bool   `json:"has_location"`
}

// Result is one page of a provider's entries.
type Result struct {
	Provider string  `json:"provider"`
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	HasMore  bool    `json:"has_more"`
	// NextOffset is the offset of the following page when HasMore is set.
	NextOffset int `json:"next_offset,omitempty"`
}

// Location returns the subline for an item: nothing for items in the root,
// otherwise the parent directory with leading slashes trimmed.
func Location(itemPath, name string) (string, bool) {
	if itemPath == "/"+name {
		return "", false
	}
	return strings.TrimLeft(path.Dir(itemPath), "/"), true
}

func newEntry(it model.Item) Entry {
	loc, ok := Location(it.Path, it.Name)
	return Entry{
		ID:          it.ID,
		Title:       it.Name,
		Path:        it.Path,
		MimeType:    it.MimeType,
		Folder:      it.IsFolder,
		Size:        it.Size,
		ModifiedAt:  it.ModifiedAt,
		Location:    loc,
		HasLocation: ok,
	}
}

// search is shared by the concrete providers.
func search(ctx context.Context, s Searcher, name string, q Query, folderOnly bool) (*Result, error) {
	limit := q.Limit
	if limit == 0 {
		limit = s.DefaultLimit()
	}
	res, err := s.Search(ctx, query.Request{
		Query:  q.Term,
		Limit:  limit,
		Offset: q.Offset,
		Filters: model.Filters{
			MimeType:   q.MimeType,
			FolderOnly: folderOnly,
		},
	})
	if err != nil {
		return nil, err
	}
	out := &Result{
		Provider: name,
		Entries:  make([]Entry, len(res.Entries)),
		Total:    res.Total,
		HasMore:  res.HasMore,
	}
	for i, it := range res.Entries {
		out.Entries[i] = newEntry(it)
	}
	if res.HasMore {
		out.NextOffset = q.Offset + len(res.Entries)
	}
	return out, nil
}

// FilesProvider searches every item.
type FilesProvider struct {
	searcher Searcher
}

// NewFilesProvider returns a provider over every item s can find.
func NewFilesProvider(s Searcher) *FilesProvider {
	return &FilesProvider{searcher: s}
}

// ID and Name identify the provider in the registry and in results.
func (p *FilesProvider) ID() string   { return "files" }
func (p *FilesProvider) Name() string { return "Files" }

// Search returns files and folders matching q.
func (p *FilesProvider) Search(ctx context.Context, q Query) (*Result, error) {
	return search(ctx, p.searcher, p.Name(), q, false)
}

// FoldersProvider only returns folders.
type FoldersProvider struct {
	searcher Searcher
}

// NewFoldersProvider returns a provider restricted to folders.
func NewFoldersProvider(s Searcher) *FoldersProvider {
	return &FoldersProvider{searcher: s}
}

func (p *FoldersProvider) ID() string   { return "folders" }
func (p *FoldersProvider) Name() string { return "Folders" }

// Search returns folders matching q.
func (p *FoldersProvider) Search(ctx context.Context, q Query) (*Result, error) {
	return search(ctx, p.searcher, p.Name(), q, true)
}
