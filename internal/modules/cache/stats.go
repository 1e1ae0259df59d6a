package cache

import "sync/atomic"

// Stats tracks cache activity counters. All methods are safe for concurrent
// use; counters survive restarts through the persisted snapshot as long as
// the snapshot is younger than the cache TTL.
type Stats struct {
	hits         int64
	misses       int64
	partialHits  int64
	extensions   int64
	merges       int64
	evictions    int64
	lastActivity int64
}

// StatsSnapshot is the JSON form persisted under the _stats key.
type StatsSnapshot struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	PartialHits  int64 `json:"partial_hits"`
	Extensions   int64 `json:"extensions"`
	Merges       int64 `json:"merges"`
	Evictions    int64 `json:"evictions"`
	LastActivity int64 `json:"last_activity"`
}

func (s *Stats) Hit(nowMs int64)        { atomic.AddInt64(&s.hits, 1); s.touch(nowMs) }
func (s *Stats) Miss(nowMs int64)       { atomic.AddInt64(&s.misses, 1); s.touch(nowMs) }
func (s *Stats) PartialHit(nowMs int64) { atomic.AddInt64(&s.partialHits, 1); s.touch(nowMs) }
func (s *Stats) Extension(nowMs int64)  { atomic.AddInt64(&s.extensions, 1); s.touch(nowMs) }
func (s *Stats) Merge(nowMs int64)      { atomic.AddInt64(&s.merges, 1); s.touch(nowMs) }

func (s *Stats) Evictions(n int, nowMs int64) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(&s.evictions, int64(n))
	s.touch(nowMs)
}

func (s *Stats) touch(nowMs int64) {
	atomic.StoreInt64(&s.lastActivity, nowMs)
}

// Snapshot returns a consistent-enough copy for persistence and reporting.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:         atomic.LoadInt64(&s.hits),
		Misses:       atomic.LoadInt64(&s.misses),
		PartialHits:  atomic.LoadInt64(&s.partialHits),
		Extensions:   atomic.LoadInt64(&s.extensions),
		Merges:       atomic.LoadInt64(&s.merges),
		Evictions:    atomic.LoadInt64(&s.evictions),
		LastActivity: atomic.LoadInt64(&s.lastActivity),
	}
}

// Restore loads a persisted snapshot, replacing current values.
func (s *Stats) Restore(snap StatsSnapshot) {
	atomic.StoreInt64(&s.hits, snap.Hits)
	atomic.StoreInt64(&s.misses, snap.Misses)
	atomic.StoreInt64(&s.partialHits, snap.PartialHits)
	atomic.StoreInt64(&s.extensions, snap.Extensions)
	atomic.StoreInt64(&s.merges, snap.Merges)
	atomic.StoreInt64(&s.evictions, snap.Evictions)
	atomic.StoreInt64(&s.lastActivity, snap.LastActivity)
}
