// Package dictionary builds pair/triple adjacency counts and the token
// vocabulary of a log corpus in parallel.
//
// The corpus is split into one contiguous chunk per worker, never splitting a
// line. Each chunk is processed by one task on a fixed goroutine pool; tasks
// increment shared sharded counters. Once the pool's join handle releases,
// the counters are sealed and copied into an immutable Result. Because lines
// are counted independently and addition commutes, the Result equals a
// sequential left-to-right scan for any worker count.
package dictionary

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultWorkers is the worker count used when Options.Workers is zero.
const DefaultWorkers = 8

// MaxWorkers bounds Options.Workers. Each worker is a goroutine and a chunk.
const MaxWorkers = 1024

// Options configures a build. The zero value builds with DefaultWorkers
// workers, DefaultShards shards and whitespace tokenization.
type Options struct {
	Workers           int
	Shards            int
	Tokenizer         Tokenizer
	TolerateMalformed bool

	// Pool, when set, runs the tasks instead of a pool created for this
	// build. The build does not close it.
	Pool *Pool

	// OnChunkDone is called from worker goroutines after each successful
	// chunk; it must be safe for concurrent use.
	OnChunkDone func(done, total int)

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.Shards == 0 {
		o.Shards = DefaultShards
	}
	if o.Tokenizer == nil {
		o.Tokenizer = Whitespace
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if o.Workers <= 0 {
		return &ConfigurationError{Field: "workers", Value: o.Workers, Reason: "must be at least 1"}
	}
	if o.Workers > MaxWorkers {
		return &ConfigurationError{Field: "workers", Value: o.Workers, Reason: fmt.Sprintf("must be at most %d", MaxWorkers)}
	}
	if o.Shards < 0 {
		return &ConfigurationError{Field: "shards", Value: o.Shards, Reason: "must not be negative"}
	}
	return nil
}

// Build computes the dictionaries of lines in parallel. On any failure it
// returns a nil Result; partial dictionaries are never handed out.
func Build(lines []string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	res, err := build(lines, opts)

	buildDuration.Observe(time.Since(start).Seconds())
	buildTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		opts.Logger.Error("dictionary build failed", "lines", len(lines), "workers", opts.Workers, "error", err)
		return nil, err
	}

	st := res.Stats()
	opts.Logger.Info("dictionary build complete",
		"lines", st.Lines,
		"skipped", st.Skipped,
		"pairs", res.PairLen(),
		"triples", res.TripleLen(),
		"vocabulary", res.VocabularyLen(),
		"workers", st.Workers,
		"elapsed", st.Elapsed.Round(time.Millisecond))
	return res, nil
}

func build(lines []string, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	chunks, err := PlanChunks(lines, opts.Workers)
	if err != nil {
		return nil, err
	}

	pool := opts.Pool
	if pool == nil {
		pool, err = NewPool(opts.Workers)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
	}

	start := time.Now()
	agg := newAggregates(opts.Shards)

	// Each task writes only its own slot; the slots are read after Wait.
	perChunk := make([]ChunkStats, len(chunks))
	var done atomic.Int64

	tasks := make([]Task, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		tasks[i] = func() error {
			st, err := processChunk(chunk, opts.Tokenizer, agg, opts.TolerateMalformed)
			perChunk[chunk.Index] = st
			chunkDuration.Observe(st.Elapsed.Seconds())
			if err != nil {
				return err
			}
			if opts.OnChunkDone != nil {
				opts.OnChunkDone(int(done.Add(1)), len(chunks))
			}
			return nil
		}
	}

	if err := pool.RunAll(tasks).Wait(); err != nil {
		return nil, err
	}

	stats := BuildStats{Workers: opts.Workers, Chunks: len(chunks)}
	var total ChunkStats
	for _, st := range perChunk {
		total.add(st)
	}
	stats.Lines = total.Lines
	stats.Skipped = total.Skipped
	stats.Tokens = total.Tokens
	stats.PairIncrements = total.PairIncrements
	stats.TripleIncrements = total.TripleIncrements

	linesProcessed.Add(float64(stats.Lines))
	linesSkipped.Add(float64(stats.Skipped))

	res, err := merge(agg, stats)
	if err != nil {
		return nil, err
	}
	res.stats.Elapsed = time.Since(start)
	return res, nil
}

// BuildSequential is the single-threaded reference scan: one pass over the
// corpus, line by line, left to right, into plain maps.
func BuildSequential(lines []string, tok Tokenizer, tolerate bool) (*Result, error) {
	if tok == nil {
		tok = Whitespace
	}
	start := time.Now()

	pairs := make(map[PairKey]int64)
	triples := make(map[TripleKey]int64)
	vocab := make(map[string]struct{})
	stats := BuildStats{Workers: 1, Chunks: 1}

	for i, line := range lines {
		stats.Lines++
		tokens, err := tok.Tokenize(line)
		if err != nil {
			if tolerate {
				stats.Skipped++
				continue
			}
			return nil, &WorkerTaskError{Chunk: 0, Line: i + 1, Err: err}
		}
		n := len(tokens)
		for j := 0; j < n; j++ {
			vocab[tokens[j]] = struct{}{}
			if j+1 < n {
				pairs[PairKey{tokens[j], tokens[j+1]}]++
				stats.PairIncrements++
			}
			if j+2 < n {
				triples[TripleKey{tokens[j], tokens[j+1], tokens[j+2]}]++
				stats.TripleIncrements++
			}
		}
		stats.Tokens += int64(n)
	}

	stats.Elapsed = time.Since(start)
	return NewResult(pairs, triples, vocab, stats), nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfiguration):
		return "config_error"
	case errors.Is(err, ErrConcurrencyInvariantViolation):
		return "invariant_error"
	default:
		return "task_error"
	}
}
