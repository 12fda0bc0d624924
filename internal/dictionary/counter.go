package dictionary

import (
	"sync"
	"sync/atomic"
)

// DefaultShards is the shard count used when Options.Shards is zero.
const DefaultShards = 64

// shardPad keeps neighbouring shard locks off the same cache line.
const shardPad = 64

// Counter is a key -> count map safe for concurrent Increment calls.
// Keys are partitioned over a power-of-two number of shards, each guarded by
// its own mutex, so increments on keys in different shards never contend.
//
// A Counter is write-only until Snapshot is called and read-only afterwards.
type Counter[K comparable] struct {
	shards []counterShard[K]
	mask   uint64
	hash   func(K) uint64
	sealed atomic.Bool
}

type counterShard[K comparable] struct {
	mu sync.Mutex
	m  map[K]int64
	_  [shardPad]byte
}

// NewCounter creates a counter with at least shards shards (rounded up to a
// power of two). shards <= 0 selects DefaultShards.
func NewCounter[K comparable](shards int, hash func(K) uint64) *Counter[K] {
	n := shardCount(shards)
	c := &Counter[K]{
		shards: make([]counterShard[K], n),
		mask:   uint64(n - 1),
		hash:   hash,
	}
	for i := range c.shards {
		c.shards[i].m = make(map[K]int64)
	}
	return c
}

// Increment adds one to key, initializing it to zero first if absent.
func (c *Counter[K]) Increment(key K) {
	c.Add(key, 1)
}

// Add adds n to key. n must be positive; counts never decrease.
func (c *Counter[K]) Add(key K, n int64) {
	if n <= 0 {
		return
	}
	if c.sealed.Load() {
		panic(invariantViolation("counter written after snapshot"))
	}
	s := &c.shards[c.hash(key)&c.mask]
	s.mu.Lock()
	s.m[key] += n
	s.mu.Unlock()
}

// Len returns the number of distinct keys.
func (c *Counter[K]) Len() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		total += len(s.m)
		s.mu.Unlock()
	}
	return total
}

// Total returns the sum of all counts.
func (c *Counter[K]) Total() int64 {
	var total int64
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, v := range s.m {
			total += v
		}
		s.mu.Unlock()
	}
	return total
}

// Snapshot seals the counter and returns a copy of every count.
// It must only be called once all writers have returned.
func (c *Counter[K]) Snapshot() map[K]int64 {
	c.sealed.Store(true)
	out := make(map[K]int64, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			out[k] = v
		}
		s.mu.Unlock()
	}
	return out
}

// Set is a concurrent set with the same sharding scheme as Counter.
type Set[K comparable] struct {
	shards []setShard[K]
	mask   uint64
	hash   func(K) uint64
	sealed atomic.Bool
}

type setShard[K comparable] struct {
	mu sync.Mutex
	m  map[K]struct{}
	_  [shardPad]byte
}

// NewSet creates a set with at least shards shards.
func NewSet[K comparable](shards int, hash func(K) uint64) *Set[K] {
	n := shardCount(shards)
	s := &Set[K]{
		shards: make([]setShard[K], n),
		mask:   uint64(n - 1),
		hash:   hash,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[K]struct{})
	}
	return s
}

// Insert adds key and reports whether it was not present before.
func (s *Set[K]) Insert(key K) bool {
	if s.sealed.Load() {
		panic(invariantViolation("set written after snapshot"))
	}
	sh := &s.shards[s.hash(key)&s.mask]
	sh.mu.Lock()
	_, seen := sh.m[key]
	if !seen {
		sh.m[key] = struct{}{}
	}
	sh.mu.Unlock()
	return !seen
}

// Len returns the number of members.
func (s *Set[K]) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.m)
		sh.mu.Unlock()
	}
	return total
}

// Snapshot seals the set and returns a copy of its members.
func (s *Set[K]) Snapshot() map[K]struct{} {
	s.sealed.Store(true)
	out := make(map[K]struct{}, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.m {
			out[k] = struct{}{}
		}
		sh.mu.Unlock()
	}
	return out
}

func shardCount(n int) int {
	if n <= 0 {
		n = DefaultShards
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
