package dictionary

import (
	"maps"
	"slices"
	"time"
)

// BuildStats summarizes one build run.
type BuildStats struct {
	Lines            int           `json:"lines"`
	Skipped          int           `json:"skipped"`
	Tokens           int64         `json:"tokens"`
	PairIncrements   int64         `json:"pairIncrements"`
	TripleIncrements int64         `json:"tripleIncrements"`
	Workers          int           `json:"workers"`
	Chunks           int           `json:"chunks"`
	Elapsed          time.Duration `json:"elapsedNs"`
}

// Result is the immutable outcome of a build: pair counts, triple counts and
// the vocabulary. All accessors are safe for concurrent readers.
type Result struct {
	pairs   map[PairKey]int64
	triples map[TripleKey]int64
	vocab   map[string]struct{}
	stats   BuildStats
}

// NewResult wraps already-computed maps. The maps are owned by the Result
// afterwards and must not be modified by the caller.
func NewResult(pairs map[PairKey]int64, triples map[TripleKey]int64, vocab map[string]struct{}, stats BuildStats) *Result {
	if pairs == nil {
		pairs = map[PairKey]int64{}
	}
	if triples == nil {
		triples = map[TripleKey]int64{}
	}
	if vocab == nil {
		vocab = map[string]struct{}{}
	}
	return &Result{pairs: pairs, triples: triples, vocab: vocab, stats: stats}
}

// Pair returns the count of the adjacency (a, b).
func (r *Result) Pair(a, b string) int64 {
	return r.pairs[PairKey{a, b}]
}

// Triple returns the count of the adjacency (a, b, c).
func (r *Result) Triple(a, b, c string) int64 {
	return r.triples[TripleKey{a, b, c}]
}

// Contains reports whether token occurs anywhere in the corpus.
func (r *Result) Contains(token string) bool {
	_, ok := r.vocab[token]
	return ok
}

func (r *Result) PairLen() int       { return len(r.pairs) }
func (r *Result) TripleLen() int     { return len(r.triples) }
func (r *Result) VocabularyLen() int { return len(r.vocab) }
func (r *Result) Stats() BuildStats  { return r.stats }

// Pairs returns a copy of the pair counts.
func (r *Result) Pairs() map[PairKey]int64 {
	return maps.Clone(r.pairs)
}

// Triples returns a copy of the triple counts.
func (r *Result) Triples() map[TripleKey]int64 {
	return maps.Clone(r.triples)
}

// Vocabulary returns the distinct tokens in sorted order.
func (r *Result) Vocabulary() []string {
	return slices.Sorted(maps.Keys(r.vocab))
}

// RangePairs calls fn for every pair until fn returns false.
func (r *Result) RangePairs(fn func(PairKey, int64) bool) {
	for k, v := range r.pairs {
		if !fn(k, v) {
			return
		}
	}
}

// RangeTriples calls fn for every triple until fn returns false.
func (r *Result) RangeTriples(fn func(TripleKey, int64) bool) {
	for k, v := range r.triples {
		if !fn(k, v) {
			return
		}
	}
}

// Equal compares the dictionaries and vocabulary key for key; stats are ignored.
func (r *Result) Equal(o *Result) bool {
	if r == nil || o == nil {
		return r == o
	}
	return maps.Equal(r.pairs, o.pairs) &&
		maps.Equal(r.triples, o.triples) &&
		maps.Equal(r.vocab, o.vocab)
}
