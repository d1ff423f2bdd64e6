// Package manager implements the generic TTL cache with tag invalidation,
// write-time LRU eviction and snapshot persistence.
package manager

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/larder/internal/clock"
	"goflare.io/larder/internal/config"
	"goflare.io/larder/internal/models"
)

const (
	tagFilterItems = 1000
	tagFilterFPR   = 0.01

	exitFlushTimeout = 5 * time.Second
)

// Manager is a bounded key-value cache. Every public method runs under one
// mutex, so callers never observe a half-applied operation.
type Manager[V any] struct {
	mu      sync.Mutex
	entries map[string]*models.Entry[V]
	seq     uint64

	config  *config.Config
	metrics *models.Metrics
	clock   clock.Clock
	logger  *zap.Logger
	tracer  trace.Tracer

	// tagFilter remembers every tag ever written so unknown tags skip the scan.
	tagFilter *bloom.BloomFilter
	patterns  *patternCache

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Manager, restores its snapshot when persistence is
// configured and starts the expiry sweep. The sweep stops when ctx is
// cancelled or Destroy is called; a cancelled ctx also flushes the snapshot.
func New[V any](ctx context.Context, cfg *config.Config) (*Manager[V], error) {
	if cfg == nil {
		var err error
		if cfg, err = config.NewConfig(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	patterns, err := newPatternCache()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager[V]{
		entries:   make(map[string]*models.Entry[V]),
		config:    cfg,
		metrics:   models.NewMetrics(),
		clock:     cfg.Clock,
		logger:    logger.With(zap.String("cache", cfg.PersistenceKey)),
		tracer:    otel.Tracer("goflare.io/larder/manager"),
		tagFilter: bloom.NewWithEstimates(tagFilterItems, tagFilterFPR),
		patterns:  patterns,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}

	if cfg.Persistent() {
		m.load(ctx)
	}

	go m.run(ctx)

	return m, nil
}

// Name returns the cache name, which doubles as its persistence key.
func (m *Manager[V]) Name() string {
	return m.config.PersistenceKey
}

// Set stores data under key, replacing any previous entry. It returns
// false and leaves the cache untouched when the value cannot be encoded.
func (m *Manager[V]) Set(key string, data V, opts ...SetOption) (stored bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in Set operation",
				zap.String("key", key),
				zap.Any("panic", r),
				zap.Stack("stack"))
			stored = false
		}
	}()

	o := setOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	res := m.store(key, data, o)
	if res.kind != resultOK {
		m.logger.Error("Set operation failed", zap.String("key", key), zap.Error(res.err))
		return false
	}
	return true
}

func (m *Manager[V]) store(key string, data V, o setOptions) result[V] {
	if key == "" {
		return failedResult[V](models.ErrEmptyKey)
	}

	entry, err := m.buildEntry(key, data, o)
	if err != nil {
		return failedResult[V](fmt.Errorf("%w: %v", models.ErrSetFailed, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry.CreatedAt = m.clock.Now()
	m.admit(entry)
	m.metrics.Sets.Inc()

	m.logger.Debug("Set cache entry",
		zap.String("key", key),
		zap.Int64("size", entry.Size),
		zap.Bool("compressed", entry.Payload.IsCompressed()))
	return okResult(data)
}

// buildEntry encodes data outside the lock: sizing, then optional compression.
func (m *Manager[V]) buildEntry(key string, data V, o setOptions) (*models.Entry[V], error) {
	size, err := m.config.Serialization.Size(data)
	if err != nil {
		return nil, fmt.Errorf("failed to size value: %w", err)
	}

	ttl := m.config.DefaultTTL
	if o.ttl > 0 {
		ttl = o.ttl
	}

	entry := &models.Entry[V]{
		Key:     key,
		Payload: models.RawPayload(data),
		TTL:     ttl,
		Version: m.config.SchemaVersion,
		Tags:    slices.Clone(o.tags),
		Size:    size,
	}

	wantCompress := m.config.CompressionEnabled && size > m.config.CompressionThreshold
	if o.compress != nil {
		wantCompress = *o.compress
	}
	if !wantCompress {
		return entry, nil
	}

	s, isString := any(data).(string)
	if !isString {
		return entry, nil
	}

	packed, err := m.config.Codec.Compress(s)
	if err != nil {
		return nil, fmt.Errorf("failed to compress value: %w", err)
	}
	entry.Payload = models.CompressedPayload[V](packed)
	entry.Size = int64(len(packed))
	return entry, nil
}

// admit inserts entry, first dropping any entry under the same key and then
// evicting old entries until it fits. Callers hold m.mu.
func (m *Manager[V]) admit(entry *models.Entry[V]) {
	if old, found := m.entries[entry.Key]; found {
		m.remove(old)
		m.metrics.Deletes.Inc()
	}

	if m.overCapacity(entry.Size) {
		m.evict(entry.Size)
	}

	m.seq++
	entry.Seq = m.seq
	m.entries[entry.Key] = entry
	m.metrics.TotalBytes.Add(entry.Size)
	m.metrics.ItemCount.Inc()

	for _, tag := range entry.Tags {
		m.tagFilter.AddString(tag)
	}
}

func (m *Manager[V]) remove(entry *models.Entry[V]) {
	delete(m.entries, entry.Key)
	m.metrics.TotalBytes.Sub(entry.Size)
	m.metrics.ItemCount.Dec()
}

func (m *Manager[V]) overCapacity(incoming int64) bool {
	return len(m.entries) >= m.config.MaxItemCount ||
		m.metrics.TotalBytes.Load()+incoming > m.config.MaxTotalBytes
}

// evict drops entries oldest-written first until incoming fits or nothing
// is left. Reads do not refresh recency. An item larger than the whole
// cache is still admitted afterwards.
func (m *Manager[V]) evict(incoming int64) {
	for _, entry := range m.byWriteOrder() {
		if !m.overCapacity(incoming) {
			return
		}
		m.remove(entry)
		m.metrics.Evictions.Inc()
		m.logger.Debug("Evicted cache entry", zap.String("key", entry.Key), zap.Int64("size", entry.Size))
	}
}

func (m *Manager[V]) byWriteOrder() []*models.Entry[V] {
	ordered := make([]*models.Entry[V], 0, len(m.entries))
	for _, entry := range m.entries {
		ordered = append(ordered, entry)
	}
	slices.SortFunc(ordered, func(a, b *models.Entry[V]) int {
		switch {
		case a.WrittenBefore(b):
			return -1
		case b.WrittenBefore(a):
			return 1
		default:
			return 0
		}
	})
	return ordered
}

// Get returns the value under key. Expired entries and entries from another
// schema version are removed and reported as absent.
func (m *Manager[V]) Get(key string, opts ...GetOption) (V, bool) {
	o := getOptions{decompress: true}
	for _, opt := range opts {
		opt(&o)
	}

	res := m.lookup(key, o)
	if res.kind == resultOK {
		return res.value, true
	}
	if res.kind == resultFailed {
		m.logger.Warn("Get operation failed", zap.String("key", key), zap.Error(res.err))
	}
	var zero V
	return zero, false
}

func (m *Manager[V]) lookup(key string, o getOptions) result[V] {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.entries[key]
	if !found {
		m.metrics.Misses.Inc()
		return missResult[V](models.ErrKeyNotFound)
	}

	now := m.clock.Now()
	if entry.Version != m.config.SchemaVersion || entry.IsExpired(now) {
		reason := errExpired
		if entry.Version != m.config.SchemaVersion {
			reason = errVersionMismatch
		}
		m.remove(entry)
		m.metrics.Deletes.Inc()
		m.metrics.Misses.Inc()
		return missResult[V](reason)
	}

	m.metrics.Hits.Inc()
	if !entry.Payload.IsCompressed() {
		return okResult(entry.Payload.Raw)
	}
	return okResult(m.decodeCompressed(entry, o.decompress))
}

// decodeCompressed restores a compressed string. When decoding is skipped
// or fails the stored bytes are handed back unchanged.
func (m *Manager[V]) decodeCompressed(entry *models.Entry[V], decompress bool) V {
	stored := string(entry.Payload.Compressed)
	if decompress {
		s, err := m.config.Codec.Decompress(entry.Payload.Compressed)
		if err == nil {
			stored = s
		} else {
			m.logger.Warn("Failed to decompress value, returning stored bytes",
				zap.String("key", entry.Key), zap.Error(err))
		}
	}
	v, _ := any(stored).(V)
	return v
}

// Has reports whether key holds a live entry. It does not touch the stats.
func (m *Manager[V]) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.entries[key]
	return found && !entry.IsStale(m.clock.Now(), m.config.SchemaVersion)
}

// Delete removes key and reports whether it was present.
func (m *Manager[V]) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.entries[key]
	if !found {
		return false
	}
	m.remove(entry)
	m.metrics.Deletes.Inc()
	return true
}

// Clear drops every entry and zeroes the stats.
func (m *Manager[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*models.Entry[V])
	m.metrics.Reset()
	m.tagFilter.ClearAll()
}

// Keys returns a snapshot of the stored keys, oldest-written first. Expired
// entries not yet swept are included.
func (m *Manager[V]) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.byWriteOrder()
	keys := make([]string, len(ordered))
	for i, entry := range ordered {
		keys[i] = entry.Key
	}
	return keys
}

// InvalidateByTag deletes every entry carrying tag and returns how many went.
func (m *Manager[V]) InvalidateByTag(tag string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tagFilter.TestString(tag) {
		return 0
	}
	return m.removeWhere(func(entry *models.Entry[V]) bool {
		return entry.HasTag(tag)
	})
}

// InvalidateByPattern deletes every entry whose key matches the regular
// expression. An invalid expression deletes nothing.
func (m *Manager[V]) InvalidateByPattern(pattern string) int {
	re, err := m.patterns.compile(pattern)
	if err != nil {
		m.logger.Warn("Invalid invalidation pattern", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return m.InvalidateByRegexp(re)
}

// InvalidateByRegexp deletes every entry whose key matches re.
func (m *Manager[V]) InvalidateByRegexp(re *regexp.Regexp) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeWhere(func(entry *models.Entry[V]) bool {
		return re.MatchString(entry.Key)
	})
}

func (m *Manager[V]) removeWhere(match func(*models.Entry[V]) bool) int {
	removed := 0
	for _, entry := range m.entries {
		if match(entry) {
			m.remove(entry)
			m.metrics.Deletes.Inc()
			removed++
		}
	}
	return removed
}

// Touch restarts the lifetime of a live entry, optionally with a new TTL.
// The entry also becomes the most recently written for eviction.
func (m *Manager[V]) Touch(key string, ttl ...time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.entries[key]
	now := m.clock.Now()
	if !found || entry.IsStale(now, m.config.SchemaVersion) {
		return false
	}

	entry.CreatedAt = now
	if len(ttl) > 0 && ttl[0] > 0 {
		entry.TTL = ttl[0]
	}
	m.seq++
	entry.Seq = m.seq
	return true
}

// Stats returns the counters and the derived hit rate.
func (m *Manager[V]) Stats() models.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.metrics.Snapshot()
}

// Info summarises the cache for humans.
func (m *Manager[V]) Info() models.Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.metrics.Snapshot()
	info := models.Info{
		TotalSize: humanize.IBytes(uint64(max(stats.TotalBytes, 0))),
		ItemCount: len(m.entries),
		HitRate:   fmt.Sprintf("%.2f%%", stats.HitRate*100),
	}
	if ordered := m.byWriteOrder(); len(ordered) > 0 {
		info.OldestKey = ordered[0].Key
		info.NewestKey = ordered[len(ordered)-1].Key
	}
	return info
}

// Sweep deletes every expired or version-mismatched entry and returns how
// many went.
func (m *Manager[V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := m.removeWhere(func(entry *models.Entry[V]) bool {
		return entry.IsStale(now, m.config.SchemaVersion)
	})
	if removed > 0 {
		m.logger.Debug("Swept stale cache entries", zap.Int("removed", removed))
	}
	return removed
}

// run drives the periodic sweep.
func (m *Manager[V]) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		case <-ctx.Done():
			m.logger.Info("Stopping cache sweep due to context cancellation")
			m.flushOnExit(ctx)
			return
		}
	}
}

// flushOnExit persists the cache once its owning context is gone.
func (m *Manager[V]) flushOnExit(ctx context.Context) {
	if !m.config.Persistent() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exitFlushTimeout)
	defer cancel()
	// Flush logs its own failures.
	_ = m.Flush(ctx)
}

// Destroy stops the sweep, flushes the snapshot and clears the cache.
// Only the first call has any effect.
func (m *Manager[V]) Destroy(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done

		if m.config.Persistent() {
			_ = m.Flush(ctx)
		}
		m.Clear()
		m.patterns.close()
		m.logger.Info("Cache destroyed")
	})
}
