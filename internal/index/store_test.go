package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

func item(id string) model.Item {
	return model.Item{ID: id, Name: id, Path: "/" + id}
}

func TestUpsertAndLookup(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"docs", "report", "pdf"})
	s.Upsert(item("b"), []string{"docs", "notes", "txt"})

	require.ElementsMatch(t, []string{"a", "b"}, s.Lookup("docs").IDs())
	require.Equal(t, []string{"a"}, s.Lookup("report").IDs())
	require.True(t, s.Lookup("missing").IsEmpty())
	require.Equal(t, 2, s.Len())
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewStore(4)
	terms := []string{"budget", "2024", "xlsx"}
	s.Upsert(item("a"), terms)
	before := s.Postings("a")
	stats := s.Stats()

	s.Upsert(item("a"), terms)
	require.Equal(t, before, s.Postings("a"))
	require.Equal(t, stats, s.Stats())
}

func TestUpsertReplacesTerms(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"old", "name"})
	s.Upsert(item("a"), []string{"new", "name"})

	require.True(t, s.Lookup("old").IsEmpty())
	require.Equal(t, []string{"a"}, s.Lookup("new").IDs())
	require.Equal(t, []string{"name", "new"}, s.Terms("a"))
	require.Equal(t, 2, s.TermCount())
}

func TestPositionsTrackRepeatedTerms(t *testing.T) {
	s := NewStore(1)
	s.Upsert(item("a"), []string{"a", "b", "a"})
	postings := s.Postings("a")
	require.Len(t, postings, 2)
	require.Equal(t, Posting{Term: "a", ItemID: "a", Positions: []int{0, 2}}, postings[0])
	require.Equal(t, []int{1}, postings[1].Positions)
}

func TestRemove(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"shared", "only"})
	s.Upsert(item("b"), []string{"shared"})

	s.Remove("a")
	require.Equal(t, []string{"b"}, s.Lookup("shared").IDs())
	require.True(t, s.Lookup("only").IsEmpty())
	require.False(t, s.Contains("a"))
	require.Nil(t, s.Terms("a"))
	require.Equal(t, 1, s.Len())

	s.Remove("unknown")
	require.Equal(t, 1, s.Len())
}

func TestCapturedPostingsAreImmutable(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"report"})
	snap := s.Lookup("report")

	s.Upsert(item("b"), []string{"report"})
	require.Equal(t, 1, snap.Len())
	require.Equal(t, 2, s.Lookup("report").Len())
}

func TestReinsertAfterRemoveGetsFreshOrdinal(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"x"})
	old := s.Lookup("x")
	s.Remove("a")
	s.Upsert(item("a"), []string{"x"})

	// The old view still holds the retired ordinal, which no longer resolves.
	require.Empty(t, old.IDs())
	require.False(t, old.Contains("a"))
	require.True(t, s.Lookup("x").Contains("a"))
}

func TestIntersectAndUnion(t *testing.T) {
	s := NewStore(4)
	s.Upsert(item("a"), []string{"q", "r"})
	s.Upsert(item("b"), []string{"q"})
	s.Upsert(item("c"), []string{"r", "s"})

	require.Equal(t, []string{"a"}, Intersect(s.Lookup("q"), s.Lookup("r")).IDs())
	require.True(t, Intersect(s.Lookup("q"), s.Lookup("nope")).IsEmpty())
	require.True(t, Intersect().IsEmpty())
	require.ElementsMatch(t, []string{"a", "b", "c"}, Union(s.Lookup("q"), s.Lookup("s"), s.Lookup("r")).IDs())
}

func TestReset(t *testing.T) {
	s := NewStore(2)
	s.Upsert(item("a"), []string{"x"})
	s.Reset()
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.TermCount())
	require.True(t, s.Lookup("x").IsEmpty())
}

func TestConcurrentUpsertAndLookup(t *testing.T) {
	s := NewStore(8)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				s.Upsert(item(id), []string{"common", id})
				_ = s.Lookup("common").Len()
				if i%3 == 0 {
					s.Remove(id)
				}
			}
		}(w)
	}
	wg.Wait()

	removed := 8 * 67
	require.Equal(t, 8*200-removed, s.Len())
	require.Equal(t, s.Len(), s.Lookup("common").Len())
}

func BenchmarkStoreUpsert(b *testing.B) {
	s := NewStore(DefaultShards)
	terms := []string{"home", "user", "projects", "benchmark", "report", "pdf"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Upsert(item(fmt.Sprintf("item-%d", i)), terms)
	}
}

func BenchmarkStoreLookup(b *testing.B) {
	s := NewStore(DefaultShards)
	for i := 0; i < 10000; i++ {
		s.Upsert(item(fmt.Sprintf("item-%d", i)), []string{"home", "user", "report"})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Lookup("report").Len()
	}
}

func BenchmarkStoreIntersectParallel(b *testing.B) {
	s := NewStore(DefaultShards)
	for i := 0; i < 10000; i++ {
		terms := []string{"home", "user"}
		if i%10 == 0 {
			terms = append(terms, "rare")
		}
		s.Upsert(item(fmt.Sprintf("item-%d", i)), terms)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Intersect(s.Lookup("home"), s.Lookup("rare"), s.Lookup("user")).Len()
		}
	})
}
