package schedule

import (
	"sync"

	"classtab/internal/model"
)

// Loader produces the occurrence list for a source on a cache miss,
// typically by running the parse+expand pipeline.
type Loader func() ([]model.Occurrence, error)

// Cache memoizes expanded occurrence lists per calendar source. An entry
// lives until the process exits or Invalidate is called for its source;
// there is no TTL and no size bound. Callers own coherency: every source
// mutation (a re-uploaded calendar) must be followed by Invalidate or
// stale occurrences will be served until the next restart.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]model.Occurrence
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]model.Occurrence)}
}

// GetOrExpand returns the cached occurrences for sourceID, invoking load
// exactly once to fill a missing entry. A failed load caches nothing.
func (c *Cache) GetOrExpand(sourceID string, load Loader) ([]model.Occurrence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if occs, ok := c.entries[sourceID]; ok {
		return occs, nil
	}

	occs, err := load()
	if err != nil {
		return nil, err
	}
	c.entries[sourceID] = occs
	return occs, nil
}

// Invalidate removes the entry for sourceID unconditionally; absent
// entries are a no-op.
func (c *Cache) Invalidate(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sourceID)
}

// Len reports the number of cached sources.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
