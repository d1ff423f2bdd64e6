package manager

import "time"

type setOptions struct {
	ttl      time.Duration
	tags     []string
	compress *bool
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

// WithTTL overrides the default time-to-live for one entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithTags labels the entry for InvalidateByTag.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithCompression forces compression on or off. Non-string values never compress.
func WithCompression(compress bool) SetOption {
	return func(o *setOptions) {
		o.compress = &compress
	}
}

type getOptions struct {
	decompress bool
}

// GetOption adjusts a single Get call.
type GetOption func(*getOptions)

// WithDecompress controls whether compressed strings are decoded before
// being returned. It defaults to true.
func WithDecompress(decompress bool) GetOption {
	return func(o *getOptions) {
		o.decompress = decompress
	}
}
