package dictionary

// Chunk is a contiguous run of corpus lines handed to one worker task.
// Lines aliases the caller's slice and must be treated as read-only.
type Chunk struct {
	Index int
	Start int // zero-based corpus offset of Lines[0]
	Lines []string
}

// PlanChunks splits lines into exactly workers contiguous chunks whose sizes
// differ by at most one line. The first len(lines)%workers chunks carry the
// extra line. With fewer lines than workers the trailing chunks are empty.
func PlanChunks(lines []string, workers int) ([]Chunk, error) {
	if workers <= 0 {
		return nil, &ConfigurationError{Field: "workers", Value: workers, Reason: "must be at least 1"}
	}

	n := len(lines)
	base, extra := n/workers, n%workers

	chunks := make([]Chunk, workers)
	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = Chunk{
			Index: i,
			Start: start,
			Lines: lines[start : start+size : start+size],
		}
		start += size
	}
	return chunks, nil
}
