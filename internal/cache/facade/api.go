package facade

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"goflare.io/larder/internal/cache/manager"
	"goflare.io/larder/internal/config"
)

const (
	APIPersistenceKey = "larder_api"
	APIMaxItems       = 500
	APITTL            = 10 * time.Minute

	TagAPI = "api"
)

// APIFetcher performs the upstream request and returns the response body.
type APIFetcher func(ctx context.Context) (string, error)

// API caches raw upstream response bodies. Bodies are strings so large
// responses get compressed.
type API struct {
	readThrough[string]
}

// NewAPI creates the API response cache. opts are applied after the API defaults.
func NewAPI(ctx context.Context, opts ...config.Option) (*API, error) {
	defaults := []config.Option{
		config.WithMaxItemCount(APIMaxItems),
		config.WithDefaultTTL(APITTL),
		config.WithPersistenceKey(APIPersistenceKey),
	}
	m, logger, err := build[string](ctx, defaults, opts)
	if err != nil {
		return nil, err
	}
	return &API{readThrough: newReadThrough(m, logger)}, nil
}

// APIKey returns the cache key for endpoint and params. Parameter order
// does not matter since Encode sorts by name.
func APIKey(endpoint string, params url.Values) string {
	sum := xxhash.Sum64String(params.Encode())
	return "api_" + endpoint + "_" + strconv.FormatUint(sum, 16)
}

// Key is APIKey, kept on the type for callers holding only the façade.
func (c *API) Key(endpoint string, params url.Values) string {
	return APIKey(endpoint, params)
}

func (c *API) Get(endpoint string, params url.Values) (string, bool) {
	return c.cache.Get(APIKey(endpoint, params))
}

// Set stores body. A positive ttl overrides the API default.
func (c *API) Set(endpoint string, params url.Values, body string, ttl ...time.Duration) bool {
	opts := []manager.SetOption{manager.WithTags(endpoint, TagAPI)}
	if len(ttl) > 0 && ttl[0] > 0 {
		opts = append(opts, manager.WithTTL(ttl[0]))
	}
	return c.cache.Set(APIKey(endpoint, params), body, opts...)
}

// GetOrFetch returns the cached body or performs fetch and caches its result.
func (c *API) GetOrFetch(ctx context.Context, endpoint string, params url.Values, fetch APIFetcher, ttl ...time.Duration) (string, error) {
	return c.getOrFetch(ctx, APIKey(endpoint, params), fetch,
		func(body string) bool { return c.Set(endpoint, params, body, ttl...) })
}

// InvalidateEndpoint drops every cached response of endpoint.
func (c *API) InvalidateEndpoint(endpoint string) int {
	return c.cache.InvalidateByTag(endpoint)
}

// InvalidateAll drops every cached response.
func (c *API) InvalidateAll() int {
	return c.cache.InvalidateByTag(TagAPI)
}

func (c *API) Manager() *manager.Manager[string] {
	return c.cache
}

func (c *API) Close(ctx context.Context) {
	c.cache.Destroy(ctx)
}
