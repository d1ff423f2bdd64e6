// Package facade wraps cache managers with domain keys for availability,
// the menu and upstream API responses, and adds read-through helpers.
package facade

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/larder/internal/cache/manager"
	"goflare.io/larder/internal/config"
)

// readThrough collapses concurrent misses for one key into a single fetch.
type readThrough[V any] struct {
	cache  *manager.Manager[V]
	sf     *singleflight.Group
	tracer trace.Tracer
	logger *zap.Logger
}

func newReadThrough[V any](cache *manager.Manager[V], logger *zap.Logger) readThrough[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return readThrough[V]{
		cache:  cache,
		sf:     &singleflight.Group{},
		tracer: otel.Tracer("goflare.io/larder/facade"),
		logger: logger.With(zap.String("cache", cache.Name())),
	}
}

// getOrFetch returns the cached value for key or calls fetch and stores the
// result with store. A failed fetch is returned and nothing is cached.
func (r readThrough[V]) getOrFetch(
	ctx context.Context,
	key string,
	fetch func(ctx context.Context) (V, error),
	store func(V) bool,
) (V, error) {
	ctx, span := r.tracer.Start(ctx, "Facade.GetOrFetch", trace.WithAttributes(
		attribute.String("cache", r.cache.Name()),
		attribute.String("key", key),
	))
	defer span.End()

	if v, ok := r.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("hit", true))
		return v, nil
	}
	span.SetAttributes(attribute.Bool("hit", false))

	res, err, shared := r.sf.Do(key, func() (any, error) {
		// Another caller may have filled the key while this one waited.
		// Has does not count a miss, so one lookup records one miss.
		if r.cache.Has(key) {
			if v, ok := r.cache.Get(key); ok {
				return v, nil
			}
		}
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if !store(v) {
			r.logger.Warn("Fetched value was not cached", zap.String("key", key))
		}
		return v, nil
	})
	span.SetAttributes(attribute.Bool("shared", shared))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var zero V
		return zero, fmt.Errorf("fetch %s: %w", key, err)
	}
	v, _ := res.(V)
	return v, nil
}

// build creates a manager from the façade defaults followed by the caller's options.
func build[V any](ctx context.Context, defaults, opts []config.Option) (*manager.Manager[V], *zap.Logger, error) {
	cfg, err := config.NewConfig(append(defaults, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	m, err := manager.New[V](ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg.Logger, nil
}
