package models

import "go.uber.org/atomic"

// Metrics 定義指標統計
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Evictions atomic.Int64

	// TotalBytes and ItemCount track current occupancy rather than totals.
	TotalBytes atomic.Int64
	ItemCount  atomic.Int64
}

// NewMetrics 創建新的 Metrics 實例
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Sets.Store(0)
	m.Deletes.Store(0)
	m.Evictions.Store(0)
	m.TotalBytes.Store(0)
	m.ItemCount.Store(0)
}

// Snapshot copies the counters into a Stats value.
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		Hits:       m.Hits.Load(),
		Misses:     m.Misses.Load(),
		Sets:       m.Sets.Load(),
		Deletes:    m.Deletes.Load(),
		Evictions:  m.Evictions.Load(),
		TotalBytes: m.TotalBytes.Load(),
		ItemCount:  m.ItemCount.Load(),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}

// Stats is a point-in-time copy of a cache's counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Sets       int64
	Deletes    int64
	Evictions  int64
	TotalBytes int64
	ItemCount  int64
	HitRate    float64
}

// Info is a human-readable summary of a cache.
type Info struct {
	TotalSize string
	ItemCount int
	HitRate   string
	// OldestKey and NewestKey are empty when the cache holds no entries.
	OldestKey string
	NewestKey string
}
