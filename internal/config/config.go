package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/larder/internal/clock"
	"goflare.io/larder/internal/compress"
	"goflare.io/larder/internal/persist"
	"goflare.io/larder/pkg/serialization"
)

const (
	DefaultMaxTotalBytes        = 50 * 1024 * 1024
	DefaultMaxItemCount         = 1000
	DefaultTTL                  = 30 * time.Minute
	DefaultSweepInterval        = 5 * time.Minute
	DefaultCompressionThreshold = 1024
	DefaultSchemaVersion        = "1.0.0"
	DefaultPersistenceKey       = "larder_cache"
)

// Config 用於單一快取管理器的配置
type Config struct {
	MaxTotalBytes int64
	MaxItemCount  int
	DefaultTTL    time.Duration
	SweepInterval time.Duration

	CompressionEnabled   bool
	CompressionThreshold int64
	Codec                compress.Codec

	PersistenceEnabled bool
	PersistenceKey     string
	Store              persist.Store

	// SchemaVersion stamps every entry; entries from another version read as absent.
	SchemaVersion string

	Serialization serialization.Codec
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrMaxItemCount  = errors.New("max item count must be at least 1")
	ErrMaxTotalBytes = errors.New("max total bytes must be greater than 0")
	ErrTTL           = errors.New("default ttl must be greater than 0")
	ErrSweepInterval = errors.New("sweep interval must be greater than 0")
	ErrSchemaVersion = errors.New("schema version cannot be empty")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	codec, err := serialization.ByType(serialization.JSONType)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MaxTotalBytes:        DefaultMaxTotalBytes,
		MaxItemCount:         DefaultMaxItemCount,
		DefaultTTL:           DefaultTTL,
		SweepInterval:        DefaultSweepInterval,
		CompressionEnabled:   true,
		CompressionThreshold: DefaultCompressionThreshold,
		Codec:                compress.Zstd(),
		PersistenceEnabled:   true,
		PersistenceKey:       DefaultPersistenceKey,
		SchemaVersion:        DefaultSchemaVersion,
		Serialization:        codec,
		Clock:                clock.Real{},
		Logger:               zap.NewNop(),
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	// 最終檢查
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the bounds every manager relies on.
func (c *Config) Validate() error {
	switch {
	case c.MaxItemCount < 1:
		return ErrMaxItemCount
	case c.MaxTotalBytes <= 0:
		return ErrMaxTotalBytes
	case c.DefaultTTL <= 0:
		return ErrTTL
	case c.SweepInterval <= 0:
		return ErrSweepInterval
	case c.SchemaVersion == "":
		return ErrSchemaVersion
	case c.PersistenceEnabled && c.Store != nil && c.PersistenceKey == "":
		return errors.New("persistence key cannot be empty")
	}
	return nil
}

// Persistent reports whether snapshots are loaded and flushed.
func (c *Config) Persistent() bool {
	return c.PersistenceEnabled && c.Store != nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithMaxTotalBytes 設置快取的最大總字節數
func WithMaxTotalBytes(size int64) Option {
	return func(c *Config) error {
		if size <= 0 {
			return ErrMaxTotalBytes
		}
		c.MaxTotalBytes = size
		return nil
	}
}

// WithMaxItemCount 設置快取的最大項目數
func WithMaxItemCount(count int) Option {
	return func(c *Config) error {
		if count < 1 {
			return ErrMaxItemCount
		}
		c.MaxItemCount = count
		return nil
	}
}

// WithDefaultTTL 設置默認的過期時間
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return ErrTTL
		}
		c.DefaultTTL = ttl
		return nil
	}
}

// WithSweepInterval 設置清理過期項目的時間間隔
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return ErrSweepInterval
		}
		c.SweepInterval = interval
		return nil
	}
}

// WithCompression toggles compression and sets the size above which string payloads compress.
func WithCompression(enabled bool, threshold int64) Option {
	return func(c *Config) error {
		if threshold < 0 {
			return fmt.Errorf("compression threshold must not be negative: %d", threshold)
		}
		c.CompressionEnabled = enabled
		c.CompressionThreshold = threshold
		return nil
	}
}

// WithCodec selects the compression codec by name.
func WithCodec(name string) Option {
	return func(c *Config) error {
		codec, err := compress.ByName(name)
		if err != nil {
			return err
		}
		c.Codec = codec
		return nil
	}
}

// WithPersistence enables snapshots under key in store.
func WithPersistence(store persist.Store, key string) Option {
	return func(c *Config) error {
		if key == "" {
			return errors.New("persistence key cannot be empty")
		}
		c.PersistenceEnabled = true
		c.PersistenceKey = key
		c.Store = store
		return nil
	}
}

// WithStore sets the snapshot store and keeps the current persistence key.
func WithStore(store persist.Store) Option {
	return func(c *Config) error {
		c.Store = store
		return nil
	}
}

// WithPersistenceKey names the snapshot inside the store.
func WithPersistenceKey(key string) Option {
	return func(c *Config) error {
		if key == "" {
			return errors.New("persistence key cannot be empty")
		}
		c.PersistenceKey = key
		return nil
	}
}

// WithoutPersistence keeps the cache memory-only.
func WithoutPersistence() Option {
	return func(c *Config) error {
		c.PersistenceEnabled = false
		return nil
	}
}

// WithSchemaVersion sets the version tag written into entries and snapshots.
func WithSchemaVersion(version string) Option {
	return func(c *Config) error {
		if version == "" {
			return ErrSchemaVersion
		}
		c.SchemaVersion = version
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(name string) Option {
	return func(c *Config) error {
		codec, err := serialization.ByType(name)
		if err != nil {
			return err
		}
		c.Serialization = codec
		return nil
	}
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		if clk != nil {
			c.Clock = clk
		}
		return nil
	}
}
