package dictionary

import (
	"strings"
	"time"
)

// Tokenizer turns one raw log line into its ordered tokens.
// Implementations must be safe for concurrent use.
type Tokenizer interface {
	Tokenize(line string) ([]string, error)
}

// TokenizerFunc adapts a plain function to Tokenizer.
type TokenizerFunc func(line string) ([]string, error)

func (f TokenizerFunc) Tokenize(line string) ([]string, error) {
	return f(line)
}

// Whitespace splits on runs of Unicode white space and never fails.
var Whitespace Tokenizer = TokenizerFunc(func(line string) ([]string, error) {
	return strings.Fields(line), nil
})

// aggregates are the three structures shared by every worker of a run.
type aggregates struct {
	pairs   *Counter[PairKey]
	triples *Counter[TripleKey]
	vocab   *Set[string]
}

func newAggregates(shards int) *aggregates {
	return &aggregates{
		pairs:   NewCounter[PairKey](shards, hashPair),
		triples: NewCounter[TripleKey](shards, hashTriple),
		vocab:   NewSet[string](shards, hashToken),
	}
}

// ChunkStats is what one task reports back besides its shared-state updates.
type ChunkStats struct {
	Lines            int
	Skipped          int
	Tokens           int64
	PairIncrements   int64
	TripleIncrements int64
	Elapsed          time.Duration
}

func (s *ChunkStats) add(o ChunkStats) {
	s.Lines += o.Lines
	s.Skipped += o.Skipped
	s.Tokens += o.Tokens
	s.PairIncrements += o.PairIncrements
	s.TripleIncrements += o.TripleIncrements
}

// processChunk tokenizes every line of chunk and applies its pairs, triples
// and tokens to agg. A tokenizer error fails the chunk unless tolerate is set,
// in which case the line is skipped and counted.
func processChunk(chunk Chunk, tok Tokenizer, agg *aggregates, tolerate bool) (ChunkStats, error) {
	start := time.Now()
	var st ChunkStats

	for i, line := range chunk.Lines {
		st.Lines++
		tokens, err := tok.Tokenize(line)
		if err != nil {
			if tolerate {
				st.Skipped++
				continue
			}
			st.Elapsed = time.Since(start)
			return st, &WorkerTaskError{Chunk: chunk.Index, Line: chunk.Start + i + 1, Err: err}
		}
		countLine(tokens, agg, &st)
	}

	st.Elapsed = time.Since(start)
	return st, nil
}

func countLine(tokens []string, agg *aggregates, st *ChunkStats) {
	n := len(tokens)
	for i := 0; i < n; i++ {
		agg.vocab.Insert(tokens[i])
		if i+1 < n {
			agg.pairs.Increment(PairKey{tokens[i], tokens[i+1]})
			st.PairIncrements++
		}
		if i+2 < n {
			agg.triples.Increment(TripleKey{tokens[i], tokens[i+1], tokens[i+2]})
			st.TripleIncrements++
		}
	}
	st.Tokens += int64(n)
}
