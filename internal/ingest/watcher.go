package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
)

const (
	defaultRenameWindow = 250 * time.Millisecond
	defaultForgetAfter  = time.Hour
	forgetSweepInterval = time.Minute
)

// ItemWalker visits every item in a metadata store.
type ItemWalker func(ctx context.Context, fn func(model.Item) error) error

// Watcher turns fsnotify notifications under a root directory into Events.
//
// fsnotify reports a rename as a Rename on the old name followed by a Create
// on the new one. Item ids come from device and inode, so a Create whose id
// matches a recent Rename or Remove becomes a rename or move of that item.
// Removals not claimed within the rename window become deletes.
//
// Event times are strictly increasing per id. A file's mtime can be older
// than a delete observed earlier for the same inode (moved out and back,
// restored from an archive), so such an upsert is stamped just after the
// delete instead.
//
// All state is owned by the Run goroutine.
type Watcher struct {
	root    string
	window  time.Duration
	sink    Sink
	fsw     *fsnotify.Watcher
	known   map[string]entry   // item path -> entry
	paths   map[string]string  // id -> item path
	pending map[string]removal // id -> removal
	stamps  map[string]stamp   // id -> last emitted event time
	// departed holds deleted ids until their stamps can be forgotten.
	departed  map[string]time.Time
	forget    time.Duration
	nextSweep time.Time
	// resumed holds the items a previous run stored. It is consumed by the
	// initial scan.
	resumed   map[string]removal
	reconcile bool
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type entry struct {
	id       string
	isFolder bool
}

type stamp struct {
	at      time.Time
	deleted bool
}

type removal struct {
	path     string
	isFolder bool
	deadline time.Time
}

func NewWatcher(cfg config.WatcherConfig, sink Sink, m *metrics.Metrics) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	window := cfg.RenameWindow
	if window <= 0 {
		window = defaultRenameWindow
	}
	forget := cfg.ForgetDeletedAfter
	if forget <= 0 {
		forget = defaultForgetAfter
	}
	return &Watcher{
		root:     root,
		window:   window,
		sink:     sink,
		known:    make(map[string]entry),
		paths:    make(map[string]string),
		pending:  make(map[string]removal),
		stamps:   make(map[string]stamp),
		departed: make(map[string]time.Time),
		forget:   forget,
		now:      time.Now,
		metrics:  m,
		logger:   slog.Default().With("component", "watcher", "root", root),
	}, nil
}

// Resume loads the items a previous run left in the store. Must be called
// before Run. Events for those items are ordered after their stored times,
// and when reconcile is set the initial scan deletes every stored item it
// does not find on disk. Reconcile only when this watcher is the sole
// source of the store's items.
func (w *Watcher) Resume(ctx context.Context, walk ItemWalker, reconcile bool) error {
	resumed := make(map[string]removal)
	err := walk(ctx, func(it model.Item) error {
		w.stamps[it.ID] = stamp{at: it.ModifiedAt.UTC()}
		resumed[it.ID] = removal{path: it.Path, isFolder: it.IsFolder}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading stored items: %w", err)
	}
	w.resumed = resumed
	w.reconcile = reconcile
	return nil
}

// Run scans the tree, emitting a create for every existing entry, then
// follows changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	w.fsw = fsw

	if err := w.scan(ctx, w.root); err != nil {
		return err
	}
	removed := w.reconcileResumed(ctx)
	w.logger.Info("watcher started", "items", len(w.known), "removed_while_stopped", removed)

	tick := time.NewTicker(max(w.window/4, 5*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping", "reason", ctx.Err())
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		case <-tick.C:
			w.expire(ctx)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		w.upsert(ctx, ev.Name, info, true)
		if info.IsDir() {
			// Entries created before the watch was added are only found by
			// scanning.
			if err := w.scan(ctx, ev.Name); err != nil {
				w.logger.Warn("scanning new directory failed", "path", ev.Name, "error", err)
			}
		}
	case ev.Has(fsnotify.Write):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		w.upsert(ctx, ev.Name, info, false)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.remove(w.itemPath(ev.Name))
	}
}

// scan walks dir, watching every directory and upserting every entry below
// it. dir itself is not upserted.
func (w *Watcher) scan(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("skipping unreadable entry", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				w.logger.Warn("watching directory failed", "path", p, "error", err)
			}
		}
		if p == dir {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		w.upsert(ctx, p, info, true)
		return nil
	})
}

func (w *Watcher) upsert(ctx context.Context, full string, info fs.FileInfo, created bool) {
	p := w.itemPath(full)
	id, ok := fileID(info)
	if !ok {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(full)).String()
	}

	typ := model.EventContentChange
	if created {
		typ = model.EventCreate
	}
	if r, ok := w.pending[id]; ok {
		delete(w.pending, id)
		typ = model.EventMove
		if path.Dir(r.path) == path.Dir(p) {
			typ = model.EventRename
		}
	} else if prev, ok := w.paths[id]; ok && prev != p {
		// A hard link or a rename whose old name we never saw.
		typ = model.EventMove
		delete(w.known, prev)
	}
	if old, ok := w.known[p]; ok && old.id != id {
		delete(w.paths, old.id)
	}
	w.known[p] = entry{id: id, isFolder: info.IsDir()}
	w.paths[id] = p

	ev := model.Event{
		ItemID:     id,
		Type:       typ,
		Name:       info.Name(),
		Path:       p,
		IsFolder:   info.IsDir(),
		ModifiedAt: w.stampUpsert(id, info.ModTime().UTC()),
	}
	if info.IsDir() {
		ev.MimeType = model.FolderMimeType
	} else {
		ev.Size = uint64(info.Size())
		ev.MimeType = detectMime(full)
	}
	w.emit(ctx, ev)
}

// remove parks p and everything below it until the rename window passes.
func (w *Watcher) remove(p string) {
	deadline := w.now().Add(w.window)
	prefix := p + "/"
	for kp, e := range w.known {
		if kp != p && !strings.HasPrefix(kp, prefix) {
			continue
		}
		delete(w.known, kp)
		delete(w.paths, e.id)
		w.pending[e.id] = removal{path: kp, isFolder: e.isFolder, deadline: deadline}
		if e.isFolder {
			// Watches follow the inode; a renamed directory would keep
			// reporting its old name.
			_ = w.fsw.Remove(filepath.Join(w.root, filepath.FromSlash(kp)))
		}
	}
}

// expire turns unclaimed removals into deletes and forgets the stamps of
// long-deleted ids.
func (w *Watcher) expire(ctx context.Context) {
	now := w.now()
	for id, r := range w.pending {
		if now.Before(r.deadline) {
			continue
		}
		delete(w.pending, id)
		w.emitDelete(ctx, id, r.path, r.isFolder, now)
	}
	if now.Before(w.nextSweep) {
		return
	}
	w.nextSweep = now.Add(forgetSweepInterval)
	for id, at := range w.departed {
		if now.Sub(at) >= w.forget {
			delete(w.departed, id)
			delete(w.stamps, id)
		}
	}
}

// reconcileResumed deletes stored items the initial scan did not find and
// returns how many.
func (w *Watcher) reconcileResumed(ctx context.Context) int {
	resumed := w.resumed
	w.resumed = nil
	if !w.reconcile {
		return 0
	}
	now := w.now()
	n := 0
	for id, r := range resumed {
		if _, ok := w.paths[id]; ok {
			continue
		}
		w.emitDelete(ctx, id, r.path, r.isFolder, now)
		n++
	}
	return n
}

func (w *Watcher) emitDelete(ctx context.Context, id, p string, isFolder bool, now time.Time) {
	at := now.UTC()
	if last, ok := w.stamps[id]; ok && at.Before(last.at) {
		at = last.at
	}
	w.stamps[id] = stamp{at: at, deleted: true}
	w.departed[id] = now
	w.emit(ctx, model.Event{
		ItemID:     id,
		Type:       model.EventDelete,
		Path:       p,
		IsFolder:   isFolder,
		ModifiedAt: at,
	})
}

// stampUpsert returns the time to send with an upsert of id whose file
// reports mtime.
func (w *Watcher) stampUpsert(id string, mtime time.Time) time.Time {
	at := mtime
	if last, ok := w.stamps[id]; ok {
		if at.Before(last.at) || (at.Equal(last.at) && last.deleted) {
			at = last.at.Add(time.Nanosecond)
		}
	}
	w.stamps[id] = stamp{at: at}
	delete(w.departed, id)
	return at
}

func (w *Watcher) emit(ctx context.Context, ev model.Event) {
	err := w.sink(ctx, ev)
	w.metrics.Ingest("watcher", err)
	if err != nil {
		w.logger.Warn("failed to deliver file event",
			"item_id", ev.ItemID,
			"event_type", ev.Type,
			"path", ev.Path,
			"error", err,
		)
		return
	}
	w.logger.Debug("file event emitted",
		"item_id", ev.ItemID,
		"event_type", ev.Type,
		"path", ev.Path,
	)
}

// itemPath maps an absolute filesystem path to a root-relative item path.
func (w *Watcher) itemPath(full string) string {
	rel, err := filepath.Rel(w.root, full)
	if err != nil {
		rel = full
	}
	return model.NormalizePath(filepath.ToSlash(rel))
}

// detectMime sniffs the file header and drops any parameters, so text files
// report "text/plain" rather than "text/plain; charset=utf-8".
func detectMime(full string) string {
	mt, err := mimetype.DetectFile(full)
	if err != nil {
		return "application/octet-stream"
	}
	m, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(m)
}
