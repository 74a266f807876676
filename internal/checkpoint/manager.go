package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
)

// FileName is the name of the latest checkpoint, locally and in the mirror.
const FileName = "metadata.ckpt.zst"

// Mirror is an optional remote copy of the checkpoint.
type Mirror interface {
	Put(ctx context.Context, name string, body io.ReadSeeker) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// Info describes a written checkpoint.
type Info struct {
	Path     string
	Items    int
	Bytes    int64
	Duration time.Duration
	Mirrored bool
}

type Manager struct {
	dir     string
	mirror  Mirror
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewManager keeps checkpoints in dir. mirror may be nil.
func NewManager(dir string, mirror Mirror, m *metrics.Metrics) *Manager {
	return &Manager{
		dir:     dir,
		mirror:  mirror,
		metrics: m,
		logger:  slog.Default().With("component", "checkpoint"),
	}
}

func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Save writes a checkpoint next to the previous one and renames it into
// place, so a crash mid-write leaves the old checkpoint intact. A mirror
// upload failure is returned but the local checkpoint stays valid.
func (m *Manager) Save(ctx context.Context, walk WalkFunc) (info Info, err error) {
	defer func() { m.metrics.Checkpoint("save", err) }()
	start := time.Now()
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, FileName+".*.tmp")
	if err != nil {
		return Info{}, fmt.Errorf("creating temp checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := Write(ctx, tmp, walk)
	if err != nil {
		return Info{}, err
	}
	if err := tmp.Sync(); err != nil {
		return Info{}, fmt.Errorf("syncing checkpoint: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return Info{}, fmt.Errorf("sizing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.Path()); err != nil {
		return Info{}, fmt.Errorf("publishing checkpoint: %w", err)
	}

	info = Info{Path: m.Path(), Items: n, Bytes: size, Duration: time.Since(start)}
	if m.mirror != nil {
		if err := m.upload(ctx); err != nil {
			return info, err
		}
		info.Mirrored = true
	}
	m.logger.Info("checkpoint saved",
		"path", info.Path,
		"items", info.Items,
		"bytes", info.Bytes,
		"duration_ms", info.Duration.Milliseconds(),
		"mirrored", info.Mirrored,
	)
	return info, nil
}

func (m *Manager) upload(ctx context.Context) error {
	f, err := os.Open(m.Path())
	if err != nil {
		return fmt.Errorf("opening checkpoint for upload: %w", err)
	}
	defer f.Close()
	return m.mirror.Put(ctx, FileName, f)
}

// Load reads the local checkpoint, falling back to the mirror when there is
// none. It returns ErrNoCheckpoint when neither exists.
func (m *Manager) Load(ctx context.Context, fn func(model.Item) error) (n int, err error) {
	defer func() {
		if !errors.Is(err, ErrNoCheckpoint) {
			m.metrics.Checkpoint("load", err)
		}
	}()
	r, source, err := m.open(ctx)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err = Read(ctx, r, fn)
	if err != nil {
		return n, fmt.Errorf("reading %s checkpoint: %w", source, err)
	}
	m.logger.Info("checkpoint loaded", "source", source, "items", n)
	return n, nil
}

func (m *Manager) open(ctx context.Context) (io.ReadCloser, string, error) {
	f, err := os.Open(m.Path())
	if err == nil {
		return f, "local", nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("opening checkpoint: %w", err)
	}
	if m.mirror == nil {
		return nil, "", ErrNoCheckpoint
	}
	r, err := m.mirror.Get(ctx, FileName)
	if err != nil {
		return nil, "", err
	}
	return r, "mirror", nil
}
