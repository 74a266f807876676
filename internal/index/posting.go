package index

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Posting links a term to one item and the token offsets at which the term
// occurs in the item's searchable path.
type Posting struct {
	Term      string
	ItemID    string
	Positions []int
}

// Postings is an immutable view of the items containing a term at the time
// it was looked up. Later writes to the store never change it.
type Postings struct {
	bm    *roaring.Bitmap
	store *Store
}

func (p Postings) Len() int {
	if p.bm == nil {
		return 0
	}
	return int(p.bm.GetCardinality())
}

func (p Postings) IsEmpty() bool {
	return p.bm == nil || p.bm.IsEmpty()
}

// IDs resolves the item ids in ordinal order. Ordinals whose item has since
// been removed are skipped.
func (p Postings) IDs() []string {
	if p.IsEmpty() {
		return nil
	}
	ids := make([]string, 0, p.bm.GetCardinality())
	it := p.bm.Iterator()
	for it.HasNext() {
		if id, ok := p.store.resolve(it.Next()); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Contains reports whether itemID was present when p was captured.
func (p Postings) Contains(itemID string) bool {
	if p.IsEmpty() {
		return false
	}
	ord, ok := p.store.ordinal(itemID)
	return ok && p.bm.Contains(ord)
}

// Intersect returns the items present in every list. The smallest list is
// used as the starting set; an empty input yields an empty result.
func Intersect(lists ...Postings) Postings {
	if len(lists) == 0 {
		return Postings{}
	}
	smallest := 0
	for i, l := range lists {
		if l.IsEmpty() {
			return Postings{store: l.store}
		}
		if l.Len() < lists[smallest].Len() {
			smallest = i
		}
	}
	bms := make([]*roaring.Bitmap, 0, len(lists))
	bms = append(bms, lists[smallest].bm)
	for i, l := range lists {
		if i != smallest {
			bms = append(bms, l.bm)
		}
	}
	return Postings{bm: roaring.FastAnd(bms...), store: lists[smallest].store}
}

// Union returns the items present in any list.
func Union(lists ...Postings) Postings {
	var store *Store
	bms := make([]*roaring.Bitmap, 0, len(lists))
	for _, l := range lists {
		if l.IsEmpty() {
			continue
		}
		store = l.store
		bms = append(bms, l.bm)
	}
	if len(bms) == 0 {
		return Postings{store: store}
	}
	return Postings{bm: roaring.FastOr(bms...), store: store}
}
