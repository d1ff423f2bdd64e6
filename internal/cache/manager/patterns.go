package manager

import (
	"fmt"
	"regexp"

	"github.com/dgraph-io/ristretto"
)

// patternCache keeps compiled invalidation patterns; callers tend to reuse
// the same handful of expressions.
type patternCache struct {
	cache *ristretto.Cache
}

func newPatternCache() (*patternCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1000,
		MaxCost:            100,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &patternCache{cache: c}, nil
}

func (p *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	if v, found := p.cache.Get(pattern); found {
		if re, ok := v.(*regexp.Regexp); ok {
			return re, nil
		}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	p.cache.Set(pattern, re, 1)
	return re, nil
}

func (p *patternCache) close() {
	p.cache.Close()
}
