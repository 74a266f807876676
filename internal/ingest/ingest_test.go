package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/maintenance"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
)

type applierFunc func(ctx context.Context, ev model.Event) error

func (f applierFunc) Apply(ctx context.Context, ev model.Event) error { return f(ctx, ev) }

type recordingPublisher struct {
	keys   []string
	values []any
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value any) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func TestHandleEventsApplies(t *testing.T) {
	var got []model.Event
	h := HandleEvents(applierFunc(func(_ context.Context, ev model.Event) error {
		got = append(got, ev)
		return nil
	}), nil)

	ev := model.Event{ItemID: "42", Type: model.EventRename, Path: "/docs/b.txt", ModifiedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	value, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, h(context.Background(), []byte("42"), value))
	require.Len(t, got, 1)
	require.Equal(t, ev.Path, got[0].Path)
	require.Equal(t, model.EventRename, got[0].Type)
	require.True(t, ev.ModifiedAt.Equal(got[0].ModifiedAt))
}

func TestHandleEventsCommitsPoisonMessages(t *testing.T) {
	calls := 0
	h := HandleEvents(applierFunc(func(context.Context, model.Event) error {
		calls++
		return nil
	}), nil)
	require.NoError(t, h(context.Background(), nil, []byte("{not json")))
	require.Zero(t, calls)
}

func TestHandleEventsErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		redeliver bool
	}{
		{"invalid", errors.Join(maintenance.ErrInvalidEvent, errors.New("no path")), false},
		{"queued for repair", apperrors.Wrap(apperrors.KindMaintenanceWrite, "maintenance.Apply", errors.New("disk full")), false},
		{"cancelled", context.Canceled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := HandleEvents(applierFunc(func(context.Context, model.Event) error { return tc.err }), nil)
			err := h(context.Background(), nil, []byte(`{"item_id":"1","event_type":"delete"}`))
			if tc.redeliver {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPublishSinkKeysByItem(t *testing.T) {
	p := &recordingPublisher{}
	sink := PublishSink(p)
	ev := model.Event{ItemID: "abc", Type: model.EventCreate, Path: "/x"}
	require.NoError(t, sink(context.Background(), ev))
	require.Equal(t, []string{"abc"}, p.keys)
	require.Equal(t, ev, p.values[0])
}

func TestWatcherStampsOrderPerItem(t *testing.T) {
	w, err := NewWatcher(config.WatcherConfig{Root: t.TempDir()},
		func(context.Context, model.Event) error { return nil }, nil)
	require.NoError(t, err)
	ctx := context.Background()
	mtime := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	// An unchanged file seen twice keeps its mtime.
	require.Equal(t, mtime, w.stampUpsert("a", mtime))
	require.Equal(t, mtime, w.stampUpsert("a", mtime))

	removed := mtime.Add(time.Hour)
	w.emitDelete(ctx, "a", "/a.txt", false, removed)
	require.Equal(t, removed.Add(time.Nanosecond), w.stampUpsert("a", mtime))

	// A delete never goes back in time.
	w.emitDelete(ctx, "a", "/a.txt", false, mtime)
	require.Equal(t, removed.Add(time.Nanosecond), w.stamps["a"].at)
	require.True(t, w.stamps["a"].deleted)
	require.Equal(t, removed.Add(2*time.Nanosecond), w.stampUpsert("a", removed))
}

func TestWatcherResumeOrdersAfterStoredTimes(t *testing.T) {
	w, err := NewWatcher(config.WatcherConfig{Root: t.TempDir()},
		func(context.Context, model.Event) error { return nil }, nil)
	require.NoError(t, err)
	stored := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.Resume(context.Background(), func(_ context.Context, fn func(model.Item) error) error {
		return fn(model.Item{ID: "a", Name: "a.txt", Path: "/a.txt", ModifiedAt: stored})
	}, false))

	require.Equal(t, stored, w.stampUpsert("a", stored))
	require.Equal(t, stored.Add(time.Nanosecond), w.stampUpsert("a", stored.Add(-time.Hour)))
}

func TestWatcherForgetsDepartedItems(t *testing.T) {
	w, err := NewWatcher(config.WatcherConfig{Root: t.TempDir(), ForgetDeletedAfter: time.Hour},
		func(context.Context, model.Event) error { return nil }, nil)
	require.NoError(t, err)
	ctx := context.Background()
	gone := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	w.emitDelete(ctx, "b", "/b.txt", false, gone)
	require.Contains(t, w.stamps, "b")

	w.now = func() time.Time { return gone.Add(30 * time.Minute) }
	w.expire(ctx)
	require.Contains(t, w.stamps, "b")

	w.now = func() time.Time { return gone.Add(2 * time.Hour) }
	w.expire(ctx)
	require.NotContains(t, w.stamps, "b")
	require.NotContains(t, w.departed, "b")
}
