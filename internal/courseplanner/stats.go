package courseplanner

import (
	"math"
	"sync/atomic"
)

type statsCollector struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	refreshes      atomic.Uint64
	failures       atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Hit() { s.hits.Add(1) }

func (s *statsCollector) Failure() { s.failures.Add(1) }

// Miss records a transport fetch of respBytes. refresh marks misses caused by
// a stale row rather than an absent one.
func (s *statsCollector) Miss(respBytes int, refresh bool) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.misses.Add(1)
	if refresh {
		s.refreshes.Add(1)
	}
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type StatsSnapshot struct {
	Hits      uint64
	Misses    uint64
	Refreshes uint64
	Failures  uint64

	TotalRespBytes uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() StatsSnapshot {
	ss := StatsSnapshot{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Refreshes: s.refreshes.Load(),
		Failures:  s.failures.Load(),
	}
	if ss.Misses == 0 {
		return ss
	}
	ss.TotalRespBytes = s.totalRespBytes.Load()
	ss.MinRespBytes = s.minRespBytes.Load()
	ss.MaxRespBytes = s.maxRespBytes.Load()
	if ss.MinRespBytes == math.MaxUint64 {
		ss.MinRespBytes = 0
	}
	ss.AvgRespBytes = ss.TotalRespBytes / ss.Misses
	return ss
}
