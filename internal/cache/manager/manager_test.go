package manager

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"goflare.io/larder/internal/clock"
	"goflare.io/larder/internal/config"
	"goflare.io/larder/internal/models"
	"goflare.io/larder/internal/persist"
)

const testKey = "larder_test"

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type ManagerTestSuite struct {
	suite.Suite
	ctx   context.Context
	clock *clock.Manual
	store *persist.MemoryStore
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.clock = clock.NewManual(epoch)
	suite.store = persist.NewMemoryStore()
}

func (suite *ManagerTestSuite) options(extra ...config.Option) []config.Option {
	return append([]config.Option{
		config.WithClock(suite.clock),
		config.WithPersistence(suite.store, testKey),
	}, extra...)
}

// newManager builds a manager on the suite clock and store.
func newManager[V any](suite *ManagerTestSuite, extra ...config.Option) *Manager[V] {
	t := suite.T()
	cfg, err := config.NewConfig(suite.options(extra...)...)
	require.NoError(t, err)

	m, err := New[V](suite.ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Destroy(context.Background()) })
	return m
}

// assertAccounting checks that the counters match the stored entries.
func assertAccounting[V any](t *testing.T, m *Manager[V]) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, entry := range m.entries {
		assert.GreaterOrEqual(t, entry.Size, int64(0))
		total += entry.Size
	}
	assert.Equal(t, total, m.metrics.TotalBytes.Load())
	assert.Equal(t, int64(len(m.entries)), m.metrics.ItemCount.Load())
}

func (suite *ManagerTestSuite) TestExpiredEntryIsRemovedOnGet() {
	m := newManager[string](suite)

	suite.True(m.Set("greeting", "olá", WithTTL(time.Second)))

	suite.clock.Advance(time.Second)
	v, ok := m.Get("greeting")
	suite.True(ok, "an entry is live until its ttl has fully elapsed")
	suite.Equal("olá", v)

	suite.clock.Advance(time.Millisecond)
	suite.Contains(m.Keys(), "greeting", "expired entries stay until read or swept")

	_, ok = m.Get("greeting")
	suite.False(ok)
	suite.NotContains(m.Keys(), "greeting")

	stats := m.Stats()
	suite.Equal(int64(1), stats.Hits)
	suite.Equal(int64(1), stats.Misses)
	suite.Equal(int64(1), stats.Deletes)
	suite.Equal(int64(0), stats.Evictions)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestAccountingAfterMixedOperations() {
	m := newManager[any](suite, config.WithMaxItemCount(3))

	suite.True(m.Set("a", 1))
	suite.True(m.Set("b", map[string]string{"pt": "sopa", "en": "soup"}))
	suite.True(m.Set("c", []int{1, 2, 3}))
	suite.True(m.Set("d", "dessert"))
	suite.True(m.Set("b", "replaced"))
	suite.True(m.Delete("c"))
	suite.False(m.Delete("c"))
	suite.True(m.Set("e", strings.Repeat("x", 64)))

	assertAccounting(suite.T(), m)
	suite.LessOrEqual(m.Stats().ItemCount, int64(3))
}

func (suite *ManagerTestSuite) TestItemCountEvictsOldestWritten() {
	m := newManager[int](suite, config.WithMaxItemCount(2))

	suite.True(m.Set("a", 1))
	suite.True(m.Set("b", 2))
	suite.True(m.Set("c", 3))

	suite.Equal([]string{"b", "c"}, m.Keys())
	suite.Equal(int64(1), m.Stats().Evictions)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestReadsDoNotRefreshRecency() {
	m := newManager[int](suite, config.WithMaxItemCount(2))

	m.Set("hot", 1)
	suite.clock.Advance(time.Second)
	m.Set("cold", 2)

	for range 10 {
		_, ok := m.Get("hot")
		suite.Require().True(ok)
	}

	suite.clock.Advance(time.Second)
	m.Set("new", 3)

	// Eviction follows write time, so the frequently read entry goes first.
	suite.Equal([]string{"cold", "new"}, m.Keys())
}

func (suite *ManagerTestSuite) TestByteBudgetEvictsUntilItFits() {
	// JSON size of an eight letter string is 11 bytes including the newline.
	m := newManager[string](suite,
		config.WithMaxTotalBytes(33),
		config.WithCompression(false, 0))

	for _, k := range []string{"a", "b", "c"} {
		suite.Require().True(m.Set(k, "12345678"))
		suite.clock.Advance(time.Millisecond)
	}
	suite.Equal(int64(33), m.Stats().TotalBytes)

	suite.True(m.Set("d", "123456789"))

	suite.Equal([]string{"c", "d"}, m.Keys())
	suite.Equal(int64(2), m.Stats().Evictions)
	suite.Equal(int64(23), m.Stats().TotalBytes)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestOversizedItemIsStillAdmitted() {
	m := newManager[string](suite,
		config.WithMaxTotalBytes(10),
		config.WithCompression(false, 0))

	suite.True(m.Set("small", "x"))
	suite.True(m.Set("big", strings.Repeat("y", 40)))

	suite.Equal([]string{"big"}, m.Keys())
	suite.Greater(m.Stats().TotalBytes, int64(10))
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestReplacingKeyDoesNotEvictNeighbour() {
	m := newManager[int](suite, config.WithMaxItemCount(2))

	m.Set("a", 1)
	m.Set("b", 2)
	suite.True(m.Set("a", 10))

	suite.Equal([]string{"b", "a"}, m.Keys())
	v, ok := m.Get("a")
	suite.True(ok)
	suite.Equal(10, v)

	stats := m.Stats()
	suite.Equal(int64(0), stats.Evictions)
	suite.Equal(int64(1), stats.Deletes)
	suite.Equal(int64(3), stats.Sets)
	suite.Equal(int64(2), stats.ItemCount)
}

func (suite *ManagerTestSuite) TestEntryFromOtherVersionIsAbsent() {
	snapshot := persist.Snapshot{
		SchemaVersion: "1.1.0",
		SavedAt:       epoch.UnixMilli(),
		Entries: []persist.Record{{
			Key: "menu_wine",
			Entry: persist.RecordEntry{
				Data:      []byte(`"vinho verde"`),
				CreatedAt: epoch.UnixMilli(),
				TTL:       time.Hour.Milliseconds(),
				Version:   "1.0.0",
				Size:      14,
			},
		}},
	}
	blob, err := persist.EncodeSnapshot(snapshot)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.store.Write(suite.ctx, testKey, blob))

	m := newManager[string](suite, config.WithSchemaVersion("1.1.0"))

	suite.Equal([]string{"menu_wine"}, m.Keys(), "mismatched entries are dropped lazily")
	suite.False(m.Has("menu_wine"))

	_, ok := m.Get("menu_wine")
	suite.False(ok)
	suite.Empty(m.Keys())
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestSnapshotFromOtherVersionIsDiscarded() {
	old := newManager[string](suite, config.WithSchemaVersion("1.0.0"))
	old.Set("menu_wine", "vinho verde")
	suite.Require().NoError(old.Flush(suite.ctx))

	m := newManager[string](suite, config.WithSchemaVersion("1.1.0"))

	suite.Empty(m.Keys())
	_, ok := m.Get("menu_wine")
	suite.False(ok)
}

func (suite *ManagerTestSuite) TestInvalidateByTag() {
	m := newManager[string](suite)

	m.Set("k1", "v", WithTags("a"))
	m.Set("k2", "v", WithTags("b"))

	suite.Equal(1, m.InvalidateByTag("a"))
	suite.Equal(0, m.InvalidateByTag("never-used"))

	_, ok := m.Get("k1")
	suite.False(ok)
	v, ok := m.Get("k2")
	suite.True(ok)
	suite.Equal("v", v)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestInvalidateByPattern() {
	m := newManager[int](suite)

	m.Set("menu_starters", 1)
	m.Set("menu_mains", 2)
	m.Set("availability_2024-05-01", 3)

	suite.Equal(2, m.InvalidateByPattern("^menu_"))
	suite.Equal([]string{"availability_2024-05-01"}, m.Keys())

	suite.Equal(0, m.InvalidateByPattern("("), "invalid patterns delete nothing")
	suite.Equal(1, m.InvalidateByPattern(`\d{4}-\d{2}-\d{2}$`))
	suite.Empty(m.Keys())
}

func (suite *ManagerTestSuite) TestClearIsIdempotent() {
	m := newManager[int](suite)

	m.Set("a", 1, WithTags("t"))
	m.Get("a")
	m.Get("missing")

	for range 2 {
		m.Clear()
		suite.Equal(models.Stats{}, m.Stats())
		suite.Empty(m.Keys())
	}
	suite.Equal(0, m.InvalidateByTag("t"))
}

func (suite *ManagerTestSuite) TestPersistenceRoundTrip() {
	first := newManager[string](suite)
	suite.Require().True(first.Set("x", "hello", WithTTL(1000*time.Millisecond)))
	suite.Require().NoError(first.Flush(suite.ctx))

	second := newManager[string](suite)
	v, ok := second.Get("x")
	suite.True(ok)
	suite.Equal("hello", v)
	suite.Equal(int64(1), second.Stats().ItemCount)

	suite.clock.Advance(1001 * time.Millisecond)
	_, ok = second.Get("x")
	suite.False(ok)

	third := newManager[string](suite)
	suite.Empty(third.Keys(), "expired records are dropped at load")
}

func (suite *ManagerTestSuite) TestPersistenceKeepsWriteOrder() {
	first := newManager[int](suite, config.WithMaxItemCount(3))
	first.Set("a", 1)
	first.Set("b", 2)
	first.Set("c", 3)
	suite.Require().NoError(first.Flush(suite.ctx))

	second := newManager[int](suite, config.WithMaxItemCount(3))
	suite.Equal([]string{"a", "b", "c"}, second.Keys())

	second.Set("d", 4)
	suite.Equal([]string{"b", "c", "d"}, second.Keys())
}

func (suite *ManagerTestSuite) TestCompressionAboveThreshold() {
	m := newManager[string](suite, config.WithCompression(true, 16))
	long := strings.Repeat("bacalhau à brás ", 50)

	suite.True(m.Set("long", long))
	suite.True(m.Set("short", "caldo"))

	m.mu.Lock()
	entry := m.entries["long"]
	suite.True(entry.Payload.IsCompressed())
	suite.Equal(int64(len(entry.Payload.Compressed)), entry.Size)
	suite.Less(entry.Size, int64(len(long)))
	suite.False(m.entries["short"].Payload.IsCompressed())
	compressed := string(entry.Payload.Compressed)
	m.mu.Unlock()

	v, ok := m.Get("long")
	suite.True(ok)
	suite.Equal(long, v)

	raw, ok := m.Get("long", WithDecompress(false))
	suite.True(ok)
	suite.Equal(compressed, raw)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestExplicitCompressionFlagWins() {
	m := newManager[string](suite, config.WithCompression(true, 16))
	long := strings.Repeat("pastel de nata ", 20)

	m.Set("forced", "caldo verde", WithCompression(true))
	m.Set("forbidden", long, WithCompression(false))

	m.mu.Lock()
	suite.True(m.entries["forced"].Payload.IsCompressed())
	suite.False(m.entries["forbidden"].Payload.IsCompressed())
	m.mu.Unlock()

	v, ok := m.Get("forced")
	suite.True(ok)
	suite.Equal("caldo verde", v)
}

func (suite *ManagerTestSuite) TestNonStringsNeverCompress() {
	m := newManager[any](suite, config.WithCompression(true, 0))
	items := make([]string, 200)
	for i := range items {
		items[i] = "arroz de pato"
	}

	suite.True(m.Set("list", items, WithCompression(true)))

	m.mu.Lock()
	suite.False(m.entries["list"].Payload.IsCompressed())
	m.mu.Unlock()
}

func (suite *ManagerTestSuite) TestCompressedEntriesSurviveReload() {
	long := strings.Repeat("polvo à lagareiro ", 40)

	first := newManager[string](suite, config.WithCompression(true, 16))
	first.Set("long", long)
	suite.Require().NoError(first.Flush(suite.ctx))

	second := newManager[string](suite, config.WithCompression(true, 16))
	v, ok := second.Get("long")
	suite.True(ok)
	suite.Equal(long, v)
}

func (suite *ManagerTestSuite) TestUndecodableEntryReturnsStoredBytes() {
	blob, err := persist.EncodeSnapshot(persist.Snapshot{
		SchemaVersion: config.DefaultSchemaVersion,
		Entries: []persist.Record{{
			Key: "broken",
			Entry: persist.RecordEntry{
				Compressed: []byte("not zstd"),
				CreatedAt:  epoch.UnixMilli(),
				TTL:        time.Hour.Milliseconds(),
				Version:    config.DefaultSchemaVersion,
				Size:       8,
			},
		}},
	})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.store.Write(suite.ctx, testKey, blob))

	m := newManager[string](suite)
	v, ok := m.Get("broken")
	suite.True(ok)
	suite.Equal("not zstd", v)
}

func (suite *ManagerTestSuite) TestTouch() {
	m := newManager[string](suite)
	m.Set("slot", "19:30", WithTTL(time.Second))

	suite.clock.Advance(800 * time.Millisecond)
	suite.True(m.Touch("slot"))

	suite.clock.Advance(800 * time.Millisecond)
	suite.True(m.Has("slot"))

	suite.True(m.Touch("slot", time.Minute))
	suite.clock.Advance(30 * time.Second)
	suite.True(m.Has("slot"))

	suite.False(m.Touch("missing"))

	suite.clock.Advance(time.Minute)
	suite.False(m.Touch("slot"), "expired entries cannot be refreshed")
}

func (suite *ManagerTestSuite) TestTouchRefreshesEvictionOrder() {
	m := newManager[int](suite, config.WithMaxItemCount(2))
	m.Set("a", 1)
	m.Set("b", 2)

	suite.True(m.Touch("a"))
	m.Set("c", 3)

	suite.Equal([]string{"a", "c"}, m.Keys())
}

func (suite *ManagerTestSuite) TestHasDoesNotTouchStats() {
	m := newManager[int](suite)
	m.Set("a", 1)

	suite.True(m.Has("a"))
	suite.False(m.Has("b"))

	stats := m.Stats()
	suite.Equal(int64(0), stats.Hits)
	suite.Equal(int64(0), stats.Misses)
	suite.Equal(float64(0), stats.HitRate)
}

func (suite *ManagerTestSuite) TestInfo() {
	m := newManager[string](suite)

	info := m.Info()
	suite.Equal("0 B", info.TotalSize)
	suite.Equal(0, info.ItemCount)
	suite.Equal("0.00%", info.HitRate)
	suite.Empty(info.OldestKey)
	suite.Empty(info.NewestKey)

	m.Set("first", "a")
	m.Set("second", "b")
	m.Get("first")
	m.Get("missing")

	info = m.Info()
	suite.Equal(2, info.ItemCount)
	suite.Equal("50.00%", info.HitRate)
	suite.Equal("first", info.OldestKey)
	suite.Equal("second", info.NewestKey)
	suite.Equal("8 B", info.TotalSize)
}

func (suite *ManagerTestSuite) TestSweep() {
	m := newManager[int](suite)
	m.Set("short", 1, WithTTL(time.Second))
	m.Set("long", 2, WithTTL(time.Hour))

	suite.clock.Advance(2 * time.Second)

	suite.Equal(1, m.Sweep())
	suite.Equal([]string{"long"}, m.Keys())
	suite.Equal(int64(1), m.Stats().Deletes)
	assertAccounting(suite.T(), m)
}

func (suite *ManagerTestSuite) TestBackgroundSweep() {
	m := newManager[int](suite, config.WithSweepInterval(5*time.Millisecond))
	m.Set("short", 1, WithTTL(time.Second))

	suite.clock.Advance(2 * time.Second)

	suite.Eventually(func() bool {
		return len(m.Keys()) == 0
	}, time.Second, 5*time.Millisecond)
}

func (suite *ManagerTestSuite) TestFlushQuotaExceeded() {
	suite.store = persist.NewMemoryStoreWithQuota(16)
	m := newManager[string](suite)
	m.Set("menu_all", strings.Repeat("x", 64))

	err := m.Flush(suite.ctx)
	suite.ErrorIs(err, persist.ErrQuotaExceeded)

	v, ok := m.Get("menu_all")
	suite.True(ok, "the cache keeps working after a failed flush")
	suite.Len(v, 64)
}

func (suite *ManagerTestSuite) TestCorruptSnapshotIsRemoved() {
	suite.Require().NoError(suite.store.Write(suite.ctx, testKey, "{not json"))

	m := newManager[string](suite)
	suite.Empty(m.Keys())

	_, found, err := suite.store.Read(suite.ctx, testKey)
	suite.NoError(err)
	suite.False(found)
}

func (suite *ManagerTestSuite) TestDestroyFlushesAndClears() {
	m := newManager[string](suite)
	m.Set("k", "v")

	m.Destroy(suite.ctx)
	suite.Empty(m.Keys())
	suite.Equal(models.Stats{}, m.Stats())

	_, found, err := suite.store.Read(suite.ctx, testKey)
	suite.NoError(err)
	suite.True(found)

	next := newManager[string](suite)
	v, ok := next.Get("k")
	suite.True(ok)
	suite.Equal("v", v)
}

func (suite *ManagerTestSuite) TestDestroyTwiceKeepsSnapshot() {
	m := newManager[string](suite)
	m.Set("k", "v")

	m.Destroy(suite.ctx)
	m.Destroy(suite.ctx)

	next := newManager[string](suite)
	v, ok := next.Get("k")
	suite.True(ok, "a second Destroy must not overwrite the snapshot")
	suite.Equal("v", v)
}

func (suite *ManagerTestSuite) TestCancelledContextFlushes() {
	ctx, cancel := context.WithCancel(context.Background())
	suite.ctx = ctx
	m := newManager[string](suite)
	m.Set("k", "v")

	cancel()
	select {
	case <-m.done:
	case <-time.After(time.Second):
		suite.FailNow("sweep did not stop after cancellation")
	}

	suite.ctx = context.Background()
	next := newManager[string](suite)
	v, ok := next.Get("k")
	suite.True(ok)
	suite.Equal("v", v)
}

// unreachableStore fails every read and counts removals.
type unreachableStore struct {
	*persist.MemoryStore
	removes int
}

func (s *unreachableStore) Read(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (s *unreachableStore) Remove(ctx context.Context, key string) error {
	s.removes++
	return s.MemoryStore.Remove(ctx, key)
}

func (suite *ManagerTestSuite) TestReadFailureKeepsSnapshot() {
	suite.Require().NoError(suite.store.Write(suite.ctx, testKey, "shared snapshot"))
	store := &unreachableStore{MemoryStore: suite.store}
	m := newManager[string](suite, config.WithPersistence(store, testKey))

	suite.Empty(m.Keys())
	suite.Equal(0, store.removes)
	blob, found, err := suite.store.Read(suite.ctx, testKey)
	suite.NoError(err)
	suite.True(found)
	suite.Equal("shared snapshot", blob)

	suite.True(m.Set("k", "v"))
	v, ok := m.Get("k")
	suite.True(ok, "the cache runs memory-only after a failed read")
	suite.Equal("v", v)
}

func (suite *ManagerTestSuite) TestSetRejectsUnencodableValues() {
	m := newManager[any](suite)

	suite.False(m.Set("", 1))
	suite.False(m.Set("chan", make(chan int)))

	suite.Empty(m.Keys())
	suite.Equal(int64(0), m.Stats().Sets)
}

func (suite *ManagerTestSuite) TestLookupResultKinds() {
	m := newManager[int](suite)
	m.Set("short", 1, WithTTL(time.Second))
	m.Set("live", 2)

	res := m.lookup("missing", getOptions{decompress: true})
	suite.Equal(resultMiss, res.kind)
	suite.ErrorIs(res.err, models.ErrKeyNotFound)

	res = m.lookup("live", getOptions{decompress: true})
	suite.Equal(resultOK, res.kind)
	suite.Equal(2, res.value)

	suite.clock.Advance(2 * time.Second)
	res = m.lookup("short", getOptions{decompress: true})
	suite.Equal(resultMiss, res.kind)
	suite.ErrorIs(res.err, errExpired)

	res = m.store("", 3, setOptions{})
	suite.Equal(resultFailed, res.kind)
	suite.ErrorIs(res.err, models.ErrEmptyKey)
}

func TestNewWithoutPersistence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := New[int](ctx, nil)
	require.NoError(t, err)
	defer m.Destroy(ctx)

	assert.Equal(t, config.DefaultPersistenceKey, m.Name())
	assert.True(t, m.Set("a", 1))
	assert.NoError(t, m.Flush(ctx))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.NewConfig()
	require.NoError(t, err)
	cfg.MaxItemCount = 0

	_, err = New[int](context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrMaxItemCount)
}
