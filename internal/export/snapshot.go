// Package export turns a finished dictionary into a portable snapshot and
// encodes it as msgpack or JSON.
package export

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/logdict/backend/internal/dictionary"
)

// SnapshotVersion is bumped on incompatible layout changes.
const SnapshotVersion = 1

// KeySeparator joins the tokens of a pair or triple for display.
const KeySeparator = "^"

type PairEntry struct {
	A     string `msgpack:"a" json:"a"`
	B     string `msgpack:"b" json:"b"`
	Count int64  `msgpack:"n" json:"count"`
}

type TripleEntry struct {
	A     string `msgpack:"a" json:"a"`
	B     string `msgpack:"b" json:"b"`
	C     string `msgpack:"c" json:"c"`
	Count int64  `msgpack:"n" json:"count"`
}

// Snapshot is a flat, ordered copy of a dictionary Result.
// Pairs and Triples are sorted by count descending, then by key.
type Snapshot struct {
	Version    int                   `msgpack:"version" json:"version"`
	BuildID    string                `msgpack:"buildId,omitempty" json:"buildId,omitempty"`
	Format     string                `msgpack:"format,omitempty" json:"format,omitempty"`
	CreatedAt  time.Time             `msgpack:"createdAt" json:"createdAt"`
	Pairs      []PairEntry           `msgpack:"pairs" json:"pairs"`
	Triples    []TripleEntry         `msgpack:"triples" json:"triples"`
	Vocabulary []string              `msgpack:"vocabulary" json:"vocabulary"`
	Stats      dictionary.BuildStats `msgpack:"stats" json:"stats"`
}

// FromResult flattens res into a Snapshot.
func FromResult(res *dictionary.Result) *Snapshot {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		CreatedAt:  time.Now().UTC(),
		Pairs:      make([]PairEntry, 0, res.PairLen()),
		Triples:    make([]TripleEntry, 0, res.TripleLen()),
		Vocabulary: res.Vocabulary(),
		Stats:      res.Stats(),
	}

	res.RangePairs(func(k dictionary.PairKey, n int64) bool {
		snap.Pairs = append(snap.Pairs, PairEntry{A: k.A, B: k.B, Count: n})
		return true
	})
	res.RangeTriples(func(k dictionary.TripleKey, n int64) bool {
		snap.Triples = append(snap.Triples, TripleEntry{A: k.A, B: k.B, C: k.C, Count: n})
		return true
	})

	SortPairs(snap.Pairs)
	SortTriples(snap.Triples)
	return snap
}

// Result rebuilds a queryable dictionary from the snapshot.
func (s *Snapshot) Result() *dictionary.Result {
	pairs := make(map[dictionary.PairKey]int64, len(s.Pairs))
	for _, p := range s.Pairs {
		pairs[dictionary.PairKey{A: p.A, B: p.B}] = p.Count
	}
	triples := make(map[dictionary.TripleKey]int64, len(s.Triples))
	for _, t := range s.Triples {
		triples[dictionary.TripleKey{A: t.A, B: t.B, C: t.C}] = t.Count
	}
	vocab := make(map[string]struct{}, len(s.Vocabulary))
	for _, tok := range s.Vocabulary {
		vocab[tok] = struct{}{}
	}
	return dictionary.NewResult(pairs, triples, vocab, s.Stats)
}

func SortPairs(pairs []PairEntry) {
	slices.SortFunc(pairs, func(x, y PairEntry) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(x.A, y.A); c != 0 {
			return c
		}
		return cmp.Compare(x.B, y.B)
	})
}

func SortTriples(triples []TripleEntry) {
	slices.SortFunc(triples, func(x, y TripleEntry) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(x.A, y.A); c != 0 {
			return c
		}
		if c := cmp.Compare(x.B, y.B); c != 0 {
			return c
		}
		return cmp.Compare(x.C, y.C)
	})
}

// JoinKey renders tokens as a^b or a^b^c.
func JoinKey(tokens ...string) string {
	return strings.Join(tokens, KeySeparator)
}

func (p PairEntry) Key() string   { return JoinKey(p.A, p.B) }
func (t TripleEntry) Key() string { return JoinKey(t.A, t.B, t.C) }

// CountGroup lists the keys sharing one count.
type CountGroup struct {
	Count int64    `json:"count"`
	Keys  []string `json:"keys"`
}

// GroupByCount inverts a key -> count map: one group per distinct count,
// ascending, keys sorted within a group.
func GroupByCount(counts map[string]int64) []CountGroup {
	byCount := make(map[int64][]string)
	for k, n := range counts {
		byCount[n] = append(byCount[n], k)
	}

	groups := make([]CountGroup, 0, len(byCount))
	for n, keys := range byCount {
		slices.Sort(keys)
		groups = append(groups, CountGroup{Count: n, Keys: keys})
	}
	slices.SortFunc(groups, func(x, y CountGroup) int { return cmp.Compare(x.Count, y.Count) })
	return groups
}

// PairCounts keys the snapshot pairs by their joined form.
func (s *Snapshot) PairCounts() map[string]int64 {
	out := make(map[string]int64, len(s.Pairs))
	for _, p := range s.Pairs {
		out[p.Key()] = p.Count
	}
	return out
}

// TripleCounts keys the snapshot triples by their joined form.
func (s *Snapshot) TripleCounts() map[string]int64 {
	out := make(map[string]int64, len(s.Triples))
	for _, t := range s.Triples {
		out[t.Key()] = t.Count
	}
	return out
}
