package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucketPruneSize caps how many per-key windows linger before stale ones
// from earlier seconds are dropped.
const bucketPruneSize = 4096

// window tracks hits against one key within a single second.
type window struct {
	sec  int64
	hits int
}

// MemoryLimiter enforces per-second windows entirely in process. It backs
// rate checks whenever Redis is disabled or unreachable; counts reset on
// restart, which is acceptable for burst protection in front of the quota
// ledger.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]window
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]window)}
}

// Allow counts one hit against the key's current one-second window. A zero
// or negative limit disables limiting for the key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > bucketPruneSize {
		l.dropStale(sec)
	}
	w := l.buckets[key]
	if w.sec != sec {
		w = window{sec: sec}
	}
	if w.hits >= limit {
		l.buckets[key] = w
		return Result{Reset: reset}, nil
	}
	w.hits++
	l.buckets[key] = w
	return Result{Allowed: true, Remaining: limit - w.hits, Reset: reset}, nil
}

// dropStale removes windows from past seconds. Callers hold mu.
func (l *MemoryLimiter) dropStale(sec int64) {
	for key, w := range l.buckets {
		if w.sec != sec {
			delete(l.buckets, key)
		}
	}
}
