package maintenance

import (
	"hash/fnv"
	"sync"
	"time"
)

// version is the last applied state of one item id.
type version struct {
	modifiedAt time.Time
	deleted    bool
	// recordedAt drives tombstone expiry.
	recordedAt time.Time
}

// versionTable remembers, per id, the ModifiedAt of the last applied event so
// that a late, older event cannot overwrite a newer one. Deletes leave
// tombstones which are pruned after a TTL.
type versionTable struct {
	shards []*versionShard
	now    func() time.Time
}

type versionShard struct {
	mu sync.Mutex
	m  map[string]version
}

func newVersionTable(shards int, now func() time.Time) *versionTable {
	if shards <= 0 {
		shards = 32
	}
	t := &versionTable{shards: make([]*versionShard, shards), now: now}
	for i := range t.shards {
		t.shards[i] = &versionShard{m: make(map[string]version)}
	}
	return t
}

// stale reports whether an event stamped at ts is older than what was last
// applied for id. Equal timestamps are not stale so duplicates re-apply
// harmlessly, except that an upsert never revives a tombstone of the same
// instant.
func (t *versionTable) stale(id string, ts time.Time, deleting bool) bool {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.m[id]
	if !ok {
		return false
	}
	if ts.Equal(v.modifiedAt) {
		return v.deleted && !deleting
	}
	return ts.Before(v.modifiedAt)
}

func (t *versionTable) record(id string, ts time.Time, deleted bool) {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.m[id]; ok && ts.Before(v.modifiedAt) {
		return
	}
	sh.m[id] = version{modifiedAt: ts, deleted: deleted, recordedAt: t.now()}
}

func (t *versionTable) get(id string) (version, bool) {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.m[id]
	return v, ok
}

// prune drops tombstones recorded more than ttl ago and returns how many
// were removed.
func (t *versionTable) prune(ttl time.Duration) int {
	cutoff := t.now().Add(-ttl)
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, v := range sh.m {
			if v.deleted && v.recordedAt.Before(cutoff) {
				delete(sh.m, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (t *versionTable) reset() {
	for _, sh := range t.shards {
		sh.mu.Lock()
		sh.m = make(map[string]version)
		sh.mu.Unlock()
	}
}

func (t *versionTable) shard(id string) *versionShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}
