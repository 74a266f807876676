// Package model defines the items, events and filters exchanged between the
// ingest sources, the index stores and the query executor.
package model

import (
	"path"
	"strings"
	"time"
)

// Item is a single file or folder known to the engine. ID is stable across
// renames and moves; Path is always normalized (see NormalizePath).
type Item struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsFolder   bool      `json:"is_folder"`
	MimeType   string    `json:"mime_type"`
	Size       uint64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// SearchText is the text an item is indexed under: its path, plus its name
// when the name is not already the last path element.
func (it Item) SearchText() string {
	if it.Name == "" || path.Base(it.Path) == it.Name {
		return it.Path
	}
	return it.Path + "/" + it.Name
}

// FolderMimeType is reported for folders that arrive without a mime type.
const FolderMimeType = "httpd/unix-directory"

type EventType string

const (
	EventCreate        EventType = "create"
	EventRename        EventType = "rename"
	EventMove          EventType = "move"
	EventDelete        EventType = "delete"
	EventContentChange EventType = "content_change"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventRename, EventMove, EventDelete, EventContentChange:
		return true
	}
	return false
}

// Event is a filesystem change notification. Delete events only need ItemID
// and ModifiedAt; the other fields are ignored for them.
type Event struct {
	ItemID     string    `json:"item_id" validate:"required"`
	Type       EventType `json:"event_type" validate:"required"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsFolder   bool      `json:"is_folder"`
	MimeType   string    `json:"mime_type"`
	Size       uint64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Item builds the metadata record an upserting event describes. The name is
// taken from the path when the event does not carry one.
func (e Event) Item() Item {
	p := NormalizePath(e.Path)
	name := e.Name
	if name == "" {
		name = path.Base(p)
	}
	mime := e.MimeType
	if mime == "" && e.IsFolder {
		mime = FolderMimeType
	}
	return Item{
		ID:         e.ItemID,
		Name:       name,
		Path:       p,
		IsFolder:   e.IsFolder,
		MimeType:   mime,
		Size:       e.Size,
		ModifiedAt: e.ModifiedAt,
	}
}

// Filters restrict a query. MimeType is either an exact "type/subtype" or a
// "type/" prefix.
type Filters struct {
	MimeType   string `json:"mime_type,omitempty"`
	FolderOnly bool   `json:"folder_only,omitempty"`
}

// Match reports whether it passes f. Filters are assumed validated.
func (f Filters) Match(it Item) bool {
	if f.FolderOnly && !it.IsFolder {
		return false
	}
	if f.MimeType == "" {
		return true
	}
	if strings.HasSuffix(f.MimeType, "/") {
		return strings.HasPrefix(strings.ToLower(it.MimeType), strings.ToLower(f.MimeType))
	}
	return strings.EqualFold(it.MimeType, f.MimeType)
}

// NormalizePath returns a slash-separated absolute path without a trailing
// slash. Backslashes are treated as separators.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
