// Package buffers implements the power-of-two bucketed byte-buffer pool
// described in spec.md §4.1: Acquire returns the smallest configured
// bucket size that satisfies a request, Release zeroes and returns the
// buffer to its bucket (capped depth), and hit/miss/allocated/released
// counters are cheap atomic reads.
//
// Each bucket is a mutex-guarded stack of buffers, matching the data
// model's "mapping size -> stack of buffers" literally, generalising
// a single typed sync.Pool wrapper into one capped stack per size
// class.
package buffers

import (
	"sync"
	"sync/atomic"
)

const (
	// DefaultMaxBucketDepth is the cap on cached buffers per size class
	// (spec.md invariant 7: "per-size pool depth ≤ 100").
	DefaultMaxBucketDepth = 100

	// DefaultPreallocate is how many buffers of each configured size are
	// pre-allocated at startup.
	DefaultPreallocate = 10
)

// DefaultSizes is the power-of-two size set {1K..64K} spec.md names.
var DefaultSizes = []int{1 << 10, 2 << 10, 4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10}

// Stats is a snapshot of pool-wide counters.
type Stats struct {
	Allocated uint64
	Released  uint64
	InUse     uint64
	Hits      uint64
	Misses    uint64
}

type bucket struct {
	size  int
	mu    sync.Mutex
	stack [][]byte
}

func (b *bucket) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.stack)
	if n == 0 {
		return nil, false
	}
	buf := b.stack[n-1]
	b.stack = b.stack[:n-1]
	return buf, true
}

// push returns false (and does not store buf) when the bucket is at
// its depth cap.
func (b *bucket) push(buf []byte, maxDepth int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.stack) >= maxDepth {
		return false
	}
	b.stack = append(b.stack, buf)
	return true
}

func (b *bucket) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stack)
}

// BufferPool is the process-wide, power-of-two-sized reusable buffer
// pool. The zero value is not usable; construct with New.
type BufferPool struct {
	buckets  []*bucket
	maxDepth int

	allocated atomic.Uint64
	released  atomic.Uint64
	inUse     atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
}

// New builds a BufferPool over sizes (defaults to DefaultSizes when nil)
// and pre-allocates DefaultPreallocate buffers per bucket.
func New(sizes []int) *BufferPool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}

	bp := &BufferPool{
		buckets:  make([]*bucket, len(sizes)),
		maxDepth: DefaultMaxBucketDepth,
	}

	for i, size := range sizes {
		bp.buckets[i] = &bucket{size: size}
	}

	for _, b := range bp.buckets {
		for i := 0; i < DefaultPreallocate; i++ {
			b.stack = append(b.stack, make([]byte, b.size))
		}
	}

	return bp
}

// bucketFor returns the smallest configured bucket whose size is >= n,
// or nil if n exceeds every configured size.
func (bp *BufferPool) bucketFor(n int) *bucket {
	for _, b := range bp.buckets {
		if b.size >= n {
			return b
		}
	}
	return nil
}

func (bp *BufferPool) bucketForExact(size int) *bucket {
	for _, b := range bp.buckets {
		if b.size == size {
			return b
		}
	}
	return nil
}

// Acquire returns a buffer of capacity >= minSize: the smallest
// configured power-of-two bucket that fits, or an unpooled oversize
// buffer (counted as a miss) when minSize exceeds every bucket.
func (bp *BufferPool) Acquire(minSize int) []byte {
	b := bp.bucketFor(minSize)
	if b == nil {
		bp.misses.Add(1)
		bp.allocated.Add(1)
		bp.inUse.Add(1)
		return make([]byte, minSize)
	}

	buf, ok := b.pop()
	if !ok {
		buf = make([]byte, b.size)
		bp.misses.Add(1)
	} else {
		bp.hits.Add(1)
	}

	bp.allocated.Add(1)
	bp.inUse.Add(1)
	return buf
}

// Release zeroes buf for security and returns it to its size bucket if
// it is a pooled size and the bucket depth is below the cap; otherwise
// it is dropped. in_use/released counters are always updated.
func (bp *BufferPool) Release(buf []byte) {
	bp.released.Add(1)
	bp.inUse.Add(-1)

	for i := range buf {
		buf[i] = 0
	}

	b := bp.bucketForExact(len(buf))
	if b == nil {
		return // unpooled size, drop
	}

	b.push(buf, bp.maxDepth)
}

// BucketDepth reports the current cached-buffer count for the bucket
// matching size exactly, or 0 if size is not a configured bucket.
func (bp *BufferPool) BucketDepth(size int) int {
	b := bp.bucketForExact(size)
	if b == nil {
		return 0
	}
	return b.depth()
}

// Stats returns a cheap, lock-free snapshot of pool counters.
func (bp *BufferPool) Stats() Stats {
	return Stats{
		Allocated: bp.allocated.Load(),
		Released:  bp.released.Load(),
		InUse:     uint64(bp.inUse.Load()),
		Hits:      bp.hits.Load(),
		Misses:    bp.misses.Load(),
	}
}

// HitRate returns hits / (hits + misses), or 0 when no acquisitions
// have happened yet.
func (bp *BufferPool) HitRate() float64 {
	hits := bp.hits.Load()
	misses := bp.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
