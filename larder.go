// Package larder is the cache layer of the restaurant site backend: a
// general purpose cache, typed caches for reservation availability, the
// menu and upstream API responses, and a memoization helper, all sharing
// one persistence backend.
package larder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"goflare.io/larder/internal/cache/facade"
	"goflare.io/larder/internal/cache/manager"
	"goflare.io/larder/internal/clock"
	"goflare.io/larder/internal/config"
	"goflare.io/larder/internal/metrics"
	"goflare.io/larder/internal/models"
	"goflare.io/larder/internal/persist"
)

type (
	// Cache is the general purpose cache.
	Cache = manager.Manager[any]
	// Availability caches reservation slots per date.
	Availability = facade.Availability
	// Menu caches menu items per category.
	Menu = facade.Menu
	// API caches upstream response bodies.
	API = facade.API
	// Settings is the YAML configuration of a Larder.
	Settings = config.Settings

	Slot      = models.Slot
	MenuItem  = models.MenuItem
	Localized = models.Localized
)

var (
	WithTTL         = manager.WithTTL
	WithTags        = manager.WithTags
	WithCompression = manager.WithCompression
	WithDecompress  = manager.WithDecompress
)

type options struct {
	logger     *zap.Logger
	store      persist.Store
	clock      clock.Clock
	settings   config.Settings
	version    string
	registerer prometheus.Registerer
}

// Option 定義初始化 Larder 的選項
type Option func(*options) error

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithStore persists every cache into store instead of the backend named
// in the settings. The caller keeps ownership of store.
func WithStore(store persist.Store) Option {
	return func(o *options) error {
		if store == nil {
			return errors.New("store cannot be nil")
		}
		o.store = store
		return nil
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithSettings applies settings loaded with LoadSettings.
func WithSettings(settings Settings) Option {
	return func(o *options) error {
		o.settings = settings
		return nil
	}
}

// WithSchemaVersion overrides the settings schema version. Bumping it
// makes every previously cached entry unreadable.
func WithSchemaVersion(version string) Option {
	return func(o *options) error {
		if version == "" {
			return config.ErrSchemaVersion
		}
		o.version = version
		return nil
	}
}

// WithRegisterer registers the cache metrics collector with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// LoadSettings reads YAML settings from path.
func LoadSettings(path string) (Settings, error) {
	return config.LoadSettings(path)
}

// Larder owns every cache of the site and their shared persistence.
type Larder struct {
	General      *Cache
	Availability *Availability
	Menu         *Menu
	API          *API

	collector *metrics.Collector
	store     persist.Store
	ownsStore bool
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New 初始化 Larder，接受多個配置選項
func New(ctx context.Context, opts ...Option) (*Larder, error) {
	o := &options{settings: config.DefaultSettings()}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if o.version != "" {
		o.settings.SchemaVersion = o.version
	}

	// 初始化 Logger，如果未設置則使用默認
	if o.logger == nil {
		logger, err := newLogger(o.settings.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		o.logger = logger
	}

	l := &Larder{logger: o.logger, store: o.store}
	if l.store == nil {
		store, err := openStore(ctx, o.settings.Persistence, o.logger)
		if err != nil {
			return nil, err
		}
		l.store, l.ownsStore = store, store != nil
	}

	base := append(o.settings.Options(), config.WithLogger(o.logger), config.WithClock(o.clock))
	if l.store != nil {
		base = append(base, config.WithStore(l.store))
	} else {
		base = append(base, config.WithoutPersistence())
	}
	caches := o.settings.Caches

	if err := l.build(ctx, base, caches); err != nil {
		l.Close(ctx)
		return nil, err
	}

	l.collector = metrics.NewCollector(l.General, l.Availability.Manager(), l.Menu.Manager(), l.API.Manager())
	if o.registerer != nil {
		if err := o.registerer.Register(l.collector); err != nil {
			l.Close(ctx)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	o.logger.Info("Larder started",
		zap.String("schemaVersion", o.settings.SchemaVersion),
		zap.Bool("persistent", l.store != nil))
	return l, nil
}

func (l *Larder) build(ctx context.Context, base []config.Option, caches config.CachesSettings) error {
	with := func(extra []config.Option) []config.Option {
		return append(append([]config.Option{}, base...), extra...)
	}

	cfg, err := config.NewConfig(with(caches.General.Options())...)
	if err != nil {
		return fmt.Errorf("failed to create general cache config: %w", err)
	}
	if l.General, err = manager.New[any](ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize general cache: %w", err)
	}
	if l.Availability, err = facade.NewAvailability(ctx, with(caches.Availability.Options())...); err != nil {
		return fmt.Errorf("failed to initialize availability cache: %w", err)
	}
	if l.Menu, err = facade.NewMenu(ctx, with(caches.Menu.Options())...); err != nil {
		return fmt.Errorf("failed to initialize menu cache: %w", err)
	}
	if l.API, err = facade.NewAPI(ctx, with(caches.API.Options())...); err != nil {
		return fmt.Errorf("failed to initialize api cache: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// openStore builds the backend named in the settings; BackendNone yields nil.
func openStore(ctx context.Context, s config.PersistenceSettings, logger *zap.Logger) (persist.Store, error) {
	switch s.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory, "":
		return persist.NewMemoryStore(), nil
	case config.BackendBolt:
		store, err := persist.NewBoltStore(s.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		// An unreachable redis only costs warm starts; the breaker takes it from here.
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable, snapshots may be lost", zap.Error(err))
		}
		return persist.NewRedisStore(client, persist.RedisOptions{
			Prefix: s.Redis.Prefix,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, s.Backend)
	}
}

// Collector returns the prometheus collector over every cache.
func (l *Larder) Collector() prometheus.Collector {
	return l.collector
}

// FlushAll persists every cache now.
func (l *Larder) FlushAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	return errors.Join(
		l.General.Flush(ctx),
		l.Availability.Manager().Flush(ctx),
		l.Menu.Manager().Flush(ctx),
		l.API.Manager().Flush(ctx),
	)
}

// Close 關閉 Larder：停止清理、寫出快照並釋放存儲
func (l *Larder) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if l.General != nil {
		l.General.Destroy(ctx)
	}
	if l.Availability != nil {
		l.Availability.Close(ctx)
	}
	if l.Menu != nil {
		l.Menu.Close(ctx)
	}
	if l.API != nil {
		l.API.Close(ctx)
	}

	if l.ownsStore && l.store != nil {
		if err := l.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	l.logger.Info("Larder closed")
	return nil
}

// Memoize caches the results of fn in the general cache.
func Memoize[A, R any](l *Larder, name string, fn func(A) (R, error), opts ...facade.MemoOption[A]) func(A) (R, error) {
	return facade.Memoize(l.General, name, fn, append([]facade.MemoOption[A]{facade.WithMemoLogger[A](l.logger)}, opts...)...)
}

// WithMemoTTL sets how long memoized results are kept.
func WithMemoTTL[A any](ttl time.Duration) facade.MemoOption[A] {
	return facade.WithMemoTTL[A](ttl)
}

// WithMemoKey replaces the default JSON key of a memoized argument.
func WithMemoKey[A any](fn func(A) string) facade.MemoOption[A] {
	return facade.WithKeyFunc(fn)
}
