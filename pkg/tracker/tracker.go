// Package tracker implements the Resource Tracker (spec.md §4.3): a
// quota accountant for {connections, memory, bandwidth, file
// descriptors, buffers} with peak tracking and a sliding 1s bandwidth
// window.
//
// Each quota's current/peak counters are go.uber.org/atomic.Int64
// values updated through a compare-and-swap loop rather than a mutex,
// the same atomic-wrapper idiom the pack's otlpxy app.go reaches for
// (atomic.Bool readiness flag) generalized here to a pair of
// contended int64 counters.
package tracker

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ResourceType enumerates the quota categories spec.md §4.3 names.
type ResourceType string

const (
	ResourceConnections     ResourceType = "connections"
	ResourceMemory          ResourceType = "memory"
	ResourceBandwidth       ResourceType = "bandwidth"
	ResourceFileDescriptors ResourceType = "file_descriptors"
	ResourceBuffers         ResourceType = "buffers"
)

// DefaultLimits mirrors spec.md §6's resource-tracker defaults.
func DefaultLimits() map[ResourceType]int64 {
	return map[ResourceType]int64{
		ResourceConnections:     10_000,
		ResourceMemory:          1 << 30,   // 1 GiB
		ResourceBandwidth:       100 << 20, // 100 MiB/s
		ResourceFileDescriptors: 65_536,
		ResourceBuffers:         10_000,
	}
}

// bandwidthSample is one recorded byte count within the sliding window.
type bandwidthSample struct {
	at    time.Time
	bytes int64
}

const bandwidthWindow = 1000 * time.Millisecond

// PressureThreshold is the utilization above which IsUnderPressure
// reports true.
const PressureThreshold = 0.8

// quota tracks one resource type's current/peak usage against its
// fixed limit. limit never changes after construction; current/peak
// are updated lock-free via CAS loops.
type quota struct {
	limit   int64
	current *atomic.Int64
	peak    *atomic.Int64
}

func newQuota(limit int64) *quota {
	return &quota{limit: limit, current: atomic.NewInt64(0), peak: atomic.NewInt64(0)}
}

func (q *quota) allocate(n int64) bool {
	for {
		cur := q.current.Load()
		next := cur + n
		if next > q.limit {
			return false
		}
		if q.current.CAS(cur, next) {
			q.bumpPeak(next)
			return true
		}
	}
}

func (q *quota) bumpPeak(value int64) {
	for {
		p := q.peak.Load()
		if value <= p {
			return
		}
		if q.peak.CAS(p, value) {
			return
		}
	}
}

func (q *quota) release(n int64) {
	for {
		cur := q.current.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if q.current.CAS(cur, next) {
			return
		}
	}
}

func (q *quota) snapshot() (current, limit, peak int64) {
	return q.current.Load(), q.limit, q.peak.Load()
}

// ResourceTracker is the process-wide quota accountant.
type ResourceTracker struct {
	quotas map[ResourceType]*quota

	bwMu      sync.Mutex
	bwSamples []bandwidthSample
}

// New builds a ResourceTracker with limits (defaults to DefaultLimits
// when nil).
func New(limits map[ResourceType]int64) *ResourceTracker {
	if limits == nil {
		limits = DefaultLimits()
	}
	rt := &ResourceTracker{quotas: make(map[ResourceType]*quota, len(limits))}
	for t, l := range limits {
		rt.quotas[t] = newQuota(l)
	}
	return rt
}

func (rt *ResourceTracker) quotaFor(t ResourceType) *quota {
	q, ok := rt.quotas[t]
	if !ok {
		q = newQuota(0)
		rt.quotas[t] = q
	}
	return q
}

// Allocate succeeds iff current+n <= limit for the given type, updating
// peak on success.
func (rt *ResourceTracker) Allocate(t ResourceType, n int64) bool {
	return rt.quotaFor(t).allocate(n)
}

// Release floors the type's usage at 0.
func (rt *ResourceTracker) Release(t ResourceType, n int64) {
	rt.quotaFor(t).release(n)
}

// RecordBandwidth appends a sample and prunes entries older than 1s.
func (rt *ResourceTracker) RecordBandwidth(bytes int64) {
	now := time.Now()
	rt.bwMu.Lock()
	defer rt.bwMu.Unlock()
	rt.bwSamples = append(rt.bwSamples, bandwidthSample{at: now, bytes: bytes})
	rt.pruneBandwidthLocked(now)
}

func (rt *ResourceTracker) pruneBandwidthLocked(now time.Time) {
	cutoff := now.Add(-bandwidthWindow)
	i := 0
	for i < len(rt.bwSamples) && rt.bwSamples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		rt.bwSamples = rt.bwSamples[i:]
	}
}

// CurrentBandwidth sums the bytes recorded within the last 1000ms.
func (rt *ResourceTracker) CurrentBandwidth() int64 {
	now := time.Now()
	rt.bwMu.Lock()
	defer rt.bwMu.Unlock()
	rt.pruneBandwidthLocked(now)

	var sum int64
	for _, s := range rt.bwSamples {
		sum += s.bytes
	}
	return sum
}

// Usage is a snapshot of one resource type's quota state.
type Usage struct {
	Current int64
	Limit   int64
	Peak    int64
}

// Usage returns the current snapshot for t.
func (rt *ResourceTracker) Usage(t ResourceType) Usage {
	c, l, p := rt.quotaFor(t).snapshot()
	return Usage{Current: c, Limit: l, Peak: p}
}

// GetPressure returns the max utilization (current/limit) across all
// tracked types. Bandwidth is measured as the sliding-window sum
// against its limit rather than as an allocated quota, and counts only
// when a positive bandwidth limit is configured.
func (rt *ResourceTracker) GetPressure() float64 {
	var max float64
	for t, q := range rt.quotas {
		if t == ResourceBandwidth {
			continue // bandwidth is windowed, handled below
		}
		c, l, _ := q.snapshot()
		if l <= 0 {
			continue
		}
		util := float64(c) / float64(l)
		if util > max {
			max = util
		}
	}

	if bwLimit := rt.quotaFor(ResourceBandwidth); bwLimit.limit > 0 {
		util := float64(rt.CurrentBandwidth()) / float64(bwLimit.limit)
		if util > max {
			max = util
		}
	}
	return max
}

// IsUnderPressure reports whether GetPressure exceeds PressureThreshold.
func (rt *ResourceTracker) IsUnderPressure() bool {
	return rt.GetPressure() > PressureThreshold
}
