package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Settings is the file-level configuration for a whole larder.
type Settings struct {
	SchemaVersion string              `yaml:"schemaVersion"`
	LogLevel      string              `yaml:"logLevel"`
	Persistence   PersistenceSettings `yaml:"persistence"`
	Compression   CompressionSettings `yaml:"compression"`
	Caches        CachesSettings      `yaml:"caches"`
}

// PersistenceSettings selects the snapshot backend.
type PersistenceSettings struct {
	Backend  string        `yaml:"backend"`
	BoltPath string        `yaml:"boltPath"`
	Redis    RedisSettings `yaml:"redis"`
}

// RedisSettings locates the redis server holding shared snapshots.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CompressionSettings controls string payload compression for every cache.
type CompressionSettings struct {
	Enabled        *bool  `yaml:"enabled"`
	Codec          string `yaml:"codec"`
	ThresholdBytes int64  `yaml:"thresholdBytes"`
}

// CachesSettings holds per-cache overrides.
type CachesSettings struct {
	General      CacheSettings `yaml:"general"`
	Availability CacheSettings `yaml:"availability"`
	Menu         CacheSettings `yaml:"menu"`
	API          CacheSettings `yaml:"api"`
}

// CacheSettings overrides a single manager; zero fields keep the defaults.
type CacheSettings struct {
	MaxItems       int           `yaml:"maxItems"`
	MaxBytes       int64         `yaml:"maxBytes"`
	TTL            time.Duration `yaml:"ttl"`
	SweepInterval  time.Duration `yaml:"sweepInterval"`
	PersistenceKey string        `yaml:"persistenceKey"`
	Persist        *bool         `yaml:"persist"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() Settings {
	return Settings{
		SchemaVersion: DefaultSchemaVersion,
		LogLevel:      "info",
		Persistence:   PersistenceSettings{Backend: BackendMemory},
	}
}

// LoadSettings reads YAML settings from path.
func LoadSettings(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to open settings: %w", err)
	}
	defer f.Close()
	return ParseSettings(f)
}

// ParseSettings decodes YAML settings and fills in defaults.
func ParseSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.SchemaVersion == "" {
		s.SchemaVersion = DefaultSchemaVersion
	}
	switch s.Persistence.Backend {
	case "":
		s.Persistence.Backend = BackendMemory
	case BackendNone, BackendMemory:
	case BackendBolt:
		if s.Persistence.BoltPath == "" {
			return Settings{}, fmt.Errorf("persistence backend %q needs boltPath", BackendBolt)
		}
	case BackendRedis:
		if s.Persistence.Redis.Addr == "" {
			return Settings{}, fmt.Errorf("persistence backend %q needs redis.addr", BackendRedis)
		}
	default:
		return Settings{}, fmt.Errorf("unknown persistence backend: %s", s.Persistence.Backend)
	}
	return s, nil
}

// Options turns the shared settings into manager options.
func (s Settings) Options() []Option {
	opts := []Option{WithSchemaVersion(s.SchemaVersion)}
	if s.Compression.Codec != "" {
		opts = append(opts, WithCodec(s.Compression.Codec))
	}
	if s.Compression.Enabled != nil || s.Compression.ThresholdBytes > 0 {
		enabled := true
		if s.Compression.Enabled != nil {
			enabled = *s.Compression.Enabled
		}
		threshold := int64(DefaultCompressionThreshold)
		if s.Compression.ThresholdBytes > 0 {
			threshold = s.Compression.ThresholdBytes
		}
		opts = append(opts, WithCompression(enabled, threshold))
	}
	return opts
}

// Options turns per-cache overrides into manager options.
func (c CacheSettings) Options() []Option {
	var opts []Option
	if c.MaxItems > 0 {
		opts = append(opts, WithMaxItemCount(c.MaxItems))
	}
	if c.MaxBytes > 0 {
		opts = append(opts, WithMaxTotalBytes(c.MaxBytes))
	}
	if c.TTL > 0 {
		opts = append(opts, WithDefaultTTL(c.TTL))
	}
	if c.SweepInterval > 0 {
		opts = append(opts, WithSweepInterval(c.SweepInterval))
	}
	if c.PersistenceKey != "" {
		opts = append(opts, WithPersistenceKey(c.PersistenceKey))
	}
	if c.Persist != nil && !*c.Persist {
		opts = append(opts, WithoutPersistence())
	}
	return opts
}
