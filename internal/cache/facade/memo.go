package facade

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/larder/internal/cache/manager"
)

// TagMemo labels every memoized result.
const TagMemo = "memo"

type memoOptions[A any] struct {
	ttl     time.Duration
	keyFunc func(A) (string, error)
	logger  *zap.Logger
}

// MemoOption configures Memoize.
type MemoOption[A any] func(*memoOptions[A])

// WithMemoTTL sets how long results are kept. Zero keeps the cache default.
func WithMemoTTL[A any](ttl time.Duration) MemoOption[A] {
	return func(o *memoOptions[A]) {
		o.ttl = ttl
	}
}

// WithKeyFunc replaces the default JSON encoding of the argument.
func WithKeyFunc[A any](fn func(A) string) MemoOption[A] {
	return func(o *memoOptions[A]) {
		o.keyFunc = func(a A) (string, error) { return fn(a), nil }
	}
}

// WithMemoLogger logs arguments that could not be turned into a key.
func WithMemoLogger[A any](logger *zap.Logger) MemoOption[A] {
	return func(o *memoOptions[A]) {
		o.logger = logger
	}
}

func jsonKey[A any](a A) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Memoize wraps fn so results are cached under memo_<name>_<key>. Errors
// are returned to the caller and never cached. Concurrent calls with the
// same key share one invocation of fn.
func Memoize[A, R any](cache *manager.Manager[any], name string, fn func(A) (R, error), opts ...MemoOption[A]) func(A) (R, error) {
	o := memoOptions[A]{keyFunc: jsonKey[A], logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	setOpts := []manager.SetOption{manager.WithTags(TagMemo, name)}
	if o.ttl > 0 {
		setOpts = append(setOpts, manager.WithTTL(o.ttl))
	}

	var sf singleflight.Group

	return func(arg A) (R, error) {
		suffix, err := o.keyFunc(arg)
		if err != nil {
			o.logger.Warn("Cannot build memo key, calling through", zap.String("name", name), zap.Error(err))
			return fn(arg)
		}
		key := "memo_" + name + "_" + suffix

		if cached, ok := cache.Get(key); ok {
			// A value restored from a snapshot may have lost its type.
			if r, ok := cached.(R); ok {
				return r, nil
			}
		}

		res, err, _ := sf.Do(key, func() (any, error) {
			r, err := fn(arg)
			if err != nil {
				return r, err
			}
			cache.Set(key, r, setOpts...)
			return r, nil
		})
		r, _ := res.(R)
		return r, err
	}
}
