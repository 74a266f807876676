package maintenance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	l := newKeyedLocker(4)
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("x")
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, peak)
	require.Zero(t, l.size())
}

func TestKeyedLockerOverlappingSetsDoNotDeadlock(t *testing.T) {
	l := newKeyedLocker(4)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var unlock func()
			if i%2 == 0 {
				unlock = l.Lock("a", "b")
			} else {
				unlock = l.Lock("b", "a", "a", "")
			}
			unlock()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock")
	}
	require.Zero(t, l.size())
}

func TestVersionTable(t *testing.T) {
	now := t0
	vt := newVersionTable(4, func() time.Time { return now })

	require.False(t, vt.stale("a", t0, false))
	vt.record("a", t0.Add(time.Second), false)
	require.True(t, vt.stale("a", t0, false))
	require.True(t, vt.stale("a", t0, true))
	require.False(t, vt.stale("a", t0.Add(time.Second), false))
	require.False(t, vt.stale("a", t0.Add(time.Second), true))

	// A tombstone wins a tie against upserts but not against another delete.
	vt.record("c", t0, true)
	require.True(t, vt.stale("c", t0, false))
	require.False(t, vt.stale("c", t0, true))
	require.False(t, vt.stale("c", t0.Add(time.Nanosecond), false))

	// Older records never move the version back.
	vt.record("a", t0, true)
	v, _ := vt.get("a")
	require.False(t, v.deleted)

	vt.record("b", t0, true)
	require.Zero(t, vt.prune(time.Minute))
	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, vt.prune(time.Minute))
	_, ok := vt.get("b")
	require.False(t, ok)
	_, ok = vt.get("a")
	require.True(t, ok)
}
