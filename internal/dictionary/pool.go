package dictionary

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is one unit of work submitted to a Pool, normally one chunk.
type Task func() error

// Pool is a fixed set of long-lived worker goroutines. A pool can serve any
// number of RunAll calls; the goroutines are reused across them.
type Pool struct {
	size  int
	tasks chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type job struct {
	handle *JoinHandle
	index  int
	fn     Task
}

// NewPool starts size worker goroutines.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, &ConfigurationError{Field: "workers", Value: size, Reason: "must be at least 1"}
	}
	p := &Pool{
		size:  size,
		tasks: make(chan job, size*2),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for j := range p.tasks {
				j.handle.execute(j)
			}
		}()
	}
	return p, nil
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int {
	return p.size
}

// RunAll submits every task and returns immediately with a handle to wait on.
// Task i is reported as chunk i in errors.
func (p *Pool) RunAll(tasks []Task) *JoinHandle {
	h := &JoinHandle{}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		h.errs = []error{ErrPoolClosed}
		return h
	}

	h.wg.Add(len(tasks))
	for i, fn := range tasks {
		p.tasks <- job{handle: h, index: i, fn: fn}
	}
	return h
}

// Close stops the worker goroutines after the queued tasks drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// JoinHandle tracks the tasks of one RunAll call.
type JoinHandle struct {
	wg     sync.WaitGroup
	failed atomic.Bool

	mu   sync.Mutex
	errs []error
}

// Wait blocks until every task of the run has returned or been skipped, and
// returns the joined task failures. Everything a task wrote happens before
// Wait returns.
func (h *JoinHandle) Wait() error {
	h.wg.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	return errors.Join(h.errs...)
}

// Failed reports whether any task of the run has failed so far.
func (h *JoinHandle) Failed() bool {
	return h.failed.Load()
}

func (h *JoinHandle) execute(j job) {
	defer h.wg.Done()

	// Once a sibling failed the run is lost; don't start new work.
	if h.failed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			if e, ok := r.(error); ok {
				cause = fmt.Errorf("panic: %w", e)
			}
			h.fail(&WorkerTaskError{Chunk: j.index, Err: cause})
		}
	}()

	if err := j.fn(); err != nil {
		var taskErr *WorkerTaskError
		if !errors.As(err, &taskErr) {
			err = &WorkerTaskError{Chunk: j.index, Err: err}
		}
		h.fail(err)
	}
}

func (h *JoinHandle) fail(err error) {
	h.failed.Store(true)
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}
