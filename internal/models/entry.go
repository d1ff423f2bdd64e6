package models

import (
	"slices"
	"time"
)

// Payload holds the stored form of a cached value: either the raw value
// or the compressed bytes of a string value.
type Payload[V any] struct {
	Raw        V
	Compressed []byte
	compressed bool
}

// RawPayload wraps an uncompressed value.
func RawPayload[V any](v V) Payload[V] {
	return Payload[V]{Raw: v}
}

// CompressedPayload wraps the compressed bytes of a string value.
func CompressedPayload[V any](data []byte) Payload[V] {
	return Payload[V]{Compressed: data, compressed: true}
}

// IsCompressed reports whether the payload carries compressed bytes.
func (p Payload[V]) IsCompressed() bool {
	return p.compressed
}

// Entry represents a cache entry.
type Entry[V any] struct {
	Key       string
	Payload   Payload[V]
	CreatedAt time.Time
	TTL       time.Duration
	Version   string
	Tags      []string
	Size      int64

	// Seq orders entries written within the same clock tick.
	Seq uint64
}

// IsExpired checks if the entry outlived its TTL at now.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// IsStale reports whether the entry is expired or was written under another schema version.
func (e *Entry[V]) IsStale(now time.Time, version string) bool {
	return e.Version != version || e.IsExpired(now)
}

// HasTag reports whether tag is among the entry tags.
func (e *Entry[V]) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// WrittenBefore orders entries by write time, oldest first.
func (e *Entry[V]) WrittenBefore(other *Entry[V]) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.Seq < other.Seq
	}
	return e.CreatedAt.Before(other.CreatedAt)
}
