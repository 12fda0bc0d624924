package dictionary

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("invalid build configuration")

	// ErrWorkerTask is matched by every *WorkerTaskError.
	ErrWorkerTask = errors.New("worker task failed")

	// ErrConcurrencyInvariantViolation reports a defect in the concurrent
	// structures (lost increment, write after snapshot). It is never retried.
	ErrConcurrencyInvariantViolation = errors.New("concurrency invariant violated")

	// ErrPoolClosed is returned by JoinHandle.Wait when tasks were submitted
	// to a pool that was already closed.
	ErrPoolClosed = errors.New("worker pool closed")
)

// ConfigurationError rejects a build before any chunk is created.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// WorkerTaskError is the failure of a single chunk task.
// Line is the 1-based corpus line number, 0 when the failure is not tied to a line.
type WorkerTaskError struct {
	Chunk int
	Line  int
	Err   error
}

func (e *WorkerTaskError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("chunk %d: line %d: %v", e.Chunk, e.Line, e.Err)
	}
	return fmt.Sprintf("chunk %d: %v", e.Chunk, e.Err)
}

func (e *WorkerTaskError) Unwrap() error {
	return e.Err
}

func (e *WorkerTaskError) Is(target error) bool {
	return target == ErrWorkerTask
}

func invariantViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConcurrencyInvariantViolation, fmt.Sprintf(format, args...))
}
