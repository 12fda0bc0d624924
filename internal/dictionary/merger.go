package dictionary

// merge converts the shared structures of a finished run into a Result.
// It must only run after the run's JoinHandle.Wait returned nil; the
// snapshot seals the structures so a late writer panics instead of racing.
//
// The per-chunk increment totals are cross-checked against the snapshot:
// every increment a worker applied must be visible in the final counts.
func merge(agg *aggregates, stats BuildStats) (*Result, error) {
	pairs := agg.pairs.Snapshot()
	triples := agg.triples.Snapshot()
	vocab := agg.vocab.Snapshot()

	if got := sumCounts(pairs); got != stats.PairIncrements {
		return nil, invariantViolation("pair counts sum to %d, workers applied %d", got, stats.PairIncrements)
	}
	if got := sumCounts(triples); got != stats.TripleIncrements {
		return nil, invariantViolation("triple counts sum to %d, workers applied %d", got, stats.TripleIncrements)
	}
	if int64(len(vocab)) > stats.Tokens {
		return nil, invariantViolation("vocabulary has %d tokens, workers saw %d", len(vocab), stats.Tokens)
	}

	return NewResult(pairs, triples, vocab, stats), nil
}

func sumCounts[K comparable](m map[K]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}
