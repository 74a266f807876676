// Package index implements the inverted index: term -> set of item ids with
// token positions. Posting sets are Roaring bitmaps over internal item
// ordinals and are replaced copy-on-write, so a reader never observes a
// partially written list.
package index

import (
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// DefaultShards is the term shard count used when none is configured.
const DefaultShards = 32

type termShard struct {
	mu    sync.RWMutex
	terms map[string]*roaring.Bitmap
}

type docEntry struct {
	ord   uint32
	terms map[string][]int
}

type docShard struct {
	mu   sync.Mutex
	docs map[string]*docEntry
}

type ordShard struct {
	mu  sync.RWMutex
	ids map[uint32]string
}

// Store is safe for concurrent use. Writers for one item are serialized by
// the item's document shard; readers only take short read locks on the term
// shard they look up.
type Store struct {
	termShards []*termShard
	docShards  []*docShard
	ordShards  []*ordShard
	nextOrd    atomic.Uint32
	items      atomic.Int64
	logger     *slog.Logger
}

// NewStore returns an empty Store with the given number of term shards.
func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Store{
		termShards: make([]*termShard, shards),
		docShards:  make([]*docShard, shards),
		ordShards:  make([]*ordShard, shards),
		logger:     slog.Default().With("component", "index-store"),
	}
	for i := 0; i < shards; i++ {
		s.termShards[i] = &termShard{terms: make(map[string]*roaring.Bitmap)}
		s.docShards[i] = &docShard{docs: make(map[string]*docEntry)}
		s.ordShards[i] = &ordShard{ids: make(map[uint32]string)}
	}
	return s
}

// Upsert replaces every posting of item.ID with postings derived from terms.
// Position i of terms is the token offset recorded for terms[i]. Calling it
// twice with the same input leaves the index unchanged.
func (s *Store) Upsert(item model.Item, terms []string) {
	next := make(map[string][]int, len(terms))
	for pos, term := range terms {
		next[term] = append(next[term], pos)
	}

	ds := s.docShards[s.shardOf(item.ID)]
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, exists := ds.docs[item.ID]
	if !exists {
		entry = &docEntry{ord: s.nextOrd.Add(1), terms: map[string][]int{}}
		os := s.ordShards[entry.ord%uint32(len(s.ordShards))]
		os.mu.Lock()
		os.ids[entry.ord] = item.ID
		os.mu.Unlock()
		ds.docs[item.ID] = entry
		s.items.Add(1)
	}

	for term := range entry.terms {
		if _, keep := next[term]; !keep {
			s.removeOrdinal(term, entry.ord)
		}
	}
	for term := range next {
		if _, had := entry.terms[term]; !had {
			s.addOrdinal(term, entry.ord)
		}
	}
	entry.terms = next

	s.logger.Debug("item indexed",
		"item_id", item.ID,
		"terms", len(next),
	)
}

// Remove deletes all postings of itemID. It is a no-op for unknown ids.
func (s *Store) Remove(itemID string) {
	ds := s.docShards[s.shardOf(itemID)]
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, exists := ds.docs[itemID]
	if !exists {
		return
	}
	for term := range entry.terms {
		s.removeOrdinal(term, entry.ord)
	}
	delete(ds.docs, itemID)
	s.items.Add(-1)

	os := s.ordShards[entry.ord%uint32(len(s.ordShards))]
	os.mu.Lock()
	delete(os.ids, entry.ord)
	os.mu.Unlock()
}

// Lookup returns the postings for an exact term. Unknown terms yield an
// empty Postings.
func (s *Store) Lookup(term string) Postings {
	ts := s.termShards[s.shardOf(term)]
	ts.mu.RLock()
	bm := ts.terms[term]
	ts.mu.RUnlock()
	return Postings{bm: bm, store: s}
}

// Terms returns the current terms of itemID in sorted order.
func (s *Store) Terms(itemID string) []string {
	ds := s.docShards[s.shardOf(itemID)]
	ds.mu.Lock()
	defer ds.mu.Unlock()
	entry, ok := ds.docs[itemID]
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(entry.terms))
	for t := range entry.terms {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	return terms
}

// Postings returns the postings of itemID, one per term, sorted by term.
func (s *Store) Postings(itemID string) []Posting {
	ds := s.docShards[s.shardOf(itemID)]
	ds.mu.Lock()
	defer ds.mu.Unlock()
	entry, ok := ds.docs[itemID]
	if !ok {
		return nil
	}
	out := make([]Posting, 0, len(entry.terms))
	for term, positions := range entry.terms {
		out = append(out, Posting{
			Term:      term,
			ItemID:    itemID,
			Positions: slices.Clone(positions),
		})
	}
	slices.SortFunc(out, func(a, b Posting) int {
		if a.Term < b.Term {
			return -1
		}
		if a.Term > b.Term {
			return 1
		}
		return 0
	})
	return out
}

// Contains reports whether itemID currently has postings.
func (s *Store) Contains(itemID string) bool {
	_, ok := s.ordinal(itemID)
	return ok
}

// Len returns the number of indexed items.
func (s *Store) Len() int {
	return int(s.items.Load())
}

// TermCount returns the number of distinct terms with at least one posting.
func (s *Store) TermCount() int {
	n := 0
	for _, ts := range s.termShards {
		ts.mu.RLock()
		n += len(ts.terms)
		ts.mu.RUnlock()
	}
	return n
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Items      int    `json:"items"`
	Terms      int    `json:"terms"`
	Postings   uint64 `json:"postings"`
	Shards     int    `json:"shards"`
	BitmapSize uint64 `json:"bitmap_bytes"`
}

// Stats summarizes the store's size.
func (s *Store) Stats() Stats {
	st := Stats{Items: s.Len(), Shards: len(s.termShards)}
	for _, ts := range s.termShards {
		ts.mu.RLock()
		st.Terms += len(ts.terms)
		for _, bm := range ts.terms {
			st.Postings += bm.GetCardinality()
			st.BitmapSize += bm.GetSizeInBytes()
		}
		ts.mu.RUnlock()
	}
	return st
}

// Reset drops every posting.
func (s *Store) Reset() {
	for _, ds := range s.docShards {
		ds.mu.Lock()
	}
	defer func() {
		for _, ds := range s.docShards {
			ds.mu.Unlock()
		}
	}()
	for i := range s.termShards {
		ts := s.termShards[i]
		ts.mu.Lock()
		ts.terms = make(map[string]*roaring.Bitmap)
		ts.mu.Unlock()
		s.docShards[i].docs = make(map[string]*docEntry)
		os := s.ordShards[i]
		os.mu.Lock()
		os.ids = make(map[uint32]string)
		os.mu.Unlock()
	}
	s.items.Store(0)
}

// addOrdinal and removeOrdinal swap in a modified clone of the term's bitmap.
func (s *Store) addOrdinal(term string, ord uint32) {
	ts := s.termShards[s.shardOf(term)]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var next *roaring.Bitmap
	if cur, ok := ts.terms[term]; ok {
		next = cur.Clone()
	} else {
		next = roaring.New()
	}
	next.Add(ord)
	next.RunOptimize()
	ts.terms[term] = next
}

func (s *Store) removeOrdinal(term string, ord uint32) {
	ts := s.termShards[s.shardOf(term)]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cur, ok := ts.terms[term]
	if !ok || !cur.Contains(ord) {
		return
	}
	if cur.GetCardinality() == 1 {
		delete(ts.terms, term)
		return
	}
	next := cur.Clone()
	next.Remove(ord)
	ts.terms[term] = next
}

func (s *Store) resolve(ord uint32) (string, bool) {
	os := s.ordShards[ord%uint32(len(s.ordShards))]
	os.mu.RLock()
	defer os.mu.RUnlock()
	id, ok := os.ids[ord]
	return id, ok
}

func (s *Store) ordinal(itemID string) (uint32, bool) {
	ds := s.docShards[s.shardOf(itemID)]
	ds.mu.Lock()
	defer ds.mu.Unlock()
	entry, ok := ds.docs[itemID]
	if !ok {
		return 0, false
	}
	return entry.ord, true
}

func (s *Store) shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.termShards)))
}
