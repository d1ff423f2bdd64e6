package facade

import (
	"context"
	"time"

	"goflare.io/larder/internal/cache/manager"
	"goflare.io/larder/internal/config"
	"goflare.io/larder/internal/models"
)

const (
	MenuPersistenceKey = "larder_menu"
	MenuMaxItems       = 50
	MenuTTL            = 60 * time.Minute

	TagMenu = "menu"
)

// MenuFetcher loads the items of one menu category.
type MenuFetcher func(ctx context.Context, category string) ([]models.MenuItem, error)

// Menu caches menu items per category.
type Menu struct {
	readThrough[[]models.MenuItem]
}

// NewMenu creates the menu cache. opts are applied after the menu defaults.
func NewMenu(ctx context.Context, opts ...config.Option) (*Menu, error) {
	defaults := []config.Option{
		config.WithMaxItemCount(MenuMaxItems),
		config.WithDefaultTTL(MenuTTL),
		config.WithPersistenceKey(MenuPersistenceKey),
	}
	m, logger, err := build[[]models.MenuItem](ctx, defaults, opts)
	if err != nil {
		return nil, err
	}
	return &Menu{readThrough: newReadThrough(m, logger)}, nil
}

// MenuKey returns the cache key for category.
func MenuKey(category string) string {
	return "menu_" + category
}

func (c *Menu) Get(category string) ([]models.MenuItem, bool) {
	return c.cache.Get(MenuKey(category))
}

func (c *Menu) Set(category string, items []models.MenuItem) bool {
	return c.cache.Set(MenuKey(category), items, manager.WithTags(TagMenu, category))
}

// GetOrFetch returns the cached category or loads it with fetch.
func (c *Menu) GetOrFetch(ctx context.Context, category string, fetch MenuFetcher) ([]models.MenuItem, error) {
	return c.getOrFetch(ctx, MenuKey(category),
		func(ctx context.Context) ([]models.MenuItem, error) { return fetch(ctx, category) },
		func(items []models.MenuItem) bool { return c.Set(category, items) })
}

// InvalidateCategory drops everything tagged with category.
func (c *Menu) InvalidateCategory(category string) int {
	return c.cache.InvalidateByTag(category)
}

// InvalidateAll drops the whole menu.
func (c *Menu) InvalidateAll() int {
	return c.cache.InvalidateByTag(TagMenu)
}

func (c *Menu) Manager() *manager.Manager[[]models.MenuItem] {
	return c.cache
}

func (c *Menu) Close(ctx context.Context) {
	c.cache.Destroy(ctx)
}
