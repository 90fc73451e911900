package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// DefaultCacheTTL is how long a fetched page is served from cache.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cache stores fetched pages keyed by URL. GetCachedPage returns nil, nil
// on a miss or when the entry is older than maxAge.
type Cache interface {
	GetCachedPage(ctx context.Context, url string, maxAge time.Duration) (*model.FetchResult, error)
	SetCachedPage(ctx context.Context, page *model.FetchResult) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	pages map[string]model.FetchResult
	now   func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		pages: make(map[string]model.FetchResult),
		now:   time.Now,
	}
}

func (c *MemoryCache) GetCachedPage(_ context.Context, url string, maxAge time.Duration) (*model.FetchResult, error) {
	c.mu.RLock()
	page, ok := c.pages[url]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if maxAge > 0 && c.now().Sub(page.FetchedAt) > maxAge {
		return nil, nil
	}
	return &page, nil
}

func (c *MemoryCache) SetCachedPage(_ context.Context, page *model.FetchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[page.URL] = *page
	return nil
}

// Len returns the number of cached pages.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
