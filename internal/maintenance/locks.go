package maintenance

import (
	"hash/fnv"
	"slices"
	"sync"
)

// keyedLocker hands out one mutex per item id. Entries are reference counted
// and dropped when the last holder releases them.
type keyedLocker struct {
	shards []*lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocker(shards int) *keyedLocker {
	if shards <= 0 {
		shards = 32
	}
	l := &keyedLocker{shards: make([]*lockShard, shards)}
	for i := range l.shards {
		l.shards[i] = &lockShard{locks: make(map[string]*refMutex)}
	}
	return l
}

// Lock acquires every id in sorted order so two callers locking overlapping
// sets cannot deadlock. Duplicate and empty ids are ignored.
func (l *keyedLocker) Lock(ids ...string) (unlock func()) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, id)
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*refMutex, len(keys))
	for i, k := range keys {
		held[i] = l.acquire(k)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			l.release(keys[i], held[i])
		}
	}
}

func (l *keyedLocker) acquire(key string) *refMutex {
	sh := l.shard(key)
	sh.mu.Lock()
	m, ok := sh.locks[key]
	if !ok {
		m = &refMutex{}
		sh.locks[key] = m
	}
	m.refs++
	sh.mu.Unlock()

	m.mu.Lock()
	return m
}

func (l *keyedLocker) release(key string, m *refMutex) {
	m.mu.Unlock()
	sh := l.shard(key)
	sh.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(sh.locks, key)
	}
	sh.mu.Unlock()
}

func (l *keyedLocker) shard(key string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// size reports live lock entries; used by tests to check nothing leaks.
func (l *keyedLocker) size() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
