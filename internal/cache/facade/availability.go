package facade

import (
	"context"
	"time"

	"goflare.io/larder/internal/cache/manager"
	"goflare.io/larder/internal/config"
	"goflare.io/larder/internal/models"
)

const (
	AvailabilityPersistenceKey = "larder_availability"
	AvailabilityMaxItems       = 100
	AvailabilityTTL            = 5 * time.Minute

	TagAvailability = "availability"
	TagReservations = "reservations"
)

// AvailabilityFetcher loads the reservation slots of one date.
type AvailabilityFetcher func(ctx context.Context, date string) ([]models.Slot, error)

// Availability caches reservation slots per date. Slots change often, so
// entries live for minutes.
type Availability struct {
	readThrough[[]models.Slot]
}

// NewAvailability creates the availability cache. opts are applied after
// the availability defaults.
func NewAvailability(ctx context.Context, opts ...config.Option) (*Availability, error) {
	defaults := []config.Option{
		config.WithMaxItemCount(AvailabilityMaxItems),
		config.WithDefaultTTL(AvailabilityTTL),
		config.WithPersistenceKey(AvailabilityPersistenceKey),
	}
	m, logger, err := build[[]models.Slot](ctx, defaults, opts)
	if err != nil {
		return nil, err
	}
	return &Availability{readThrough: newReadThrough(m, logger)}, nil
}

// AvailabilityKey returns the cache key for date.
func AvailabilityKey(date string) string {
	return "availability_" + date
}

// Get 獲取某日的可預約時段
func (a *Availability) Get(date string) ([]models.Slot, bool) {
	return a.cache.Get(AvailabilityKey(date))
}

// Set 設置某日的可預約時段
func (a *Availability) Set(date string, slots []models.Slot) bool {
	return a.cache.Set(AvailabilityKey(date), slots,
		manager.WithTags(TagAvailability, TagReservations))
}

// GetOrFetch returns the cached slots of date or loads them with fetch.
func (a *Availability) GetOrFetch(ctx context.Context, date string, fetch AvailabilityFetcher) ([]models.Slot, error) {
	return a.getOrFetch(ctx, AvailabilityKey(date),
		func(ctx context.Context) ([]models.Slot, error) { return fetch(ctx, date) },
		func(slots []models.Slot) bool { return a.Set(date, slots) })
}

// InvalidateDate drops one date, typically after a reservation was made on it.
func (a *Availability) InvalidateDate(date string) bool {
	return a.cache.Delete(AvailabilityKey(date))
}

// InvalidateAll drops every date.
func (a *Availability) InvalidateAll() int {
	return a.cache.InvalidateByTag(TagAvailability)
}

// Manager exposes the underlying cache.
func (a *Availability) Manager() *manager.Manager[[]models.Slot] {
	return a.cache
}

// Close flushes and clears the cache.
func (a *Availability) Close(ctx context.Context) {
	a.cache.Destroy(ctx)
}
