package util

import "sync"

// CycleCache memoizes lookups whose results are immutable within a single
// handling cycle for one merge request (job status lists, version-to-branch
// mappings and the like). It must be reset at the start of each new cycle;
// nothing in it survives longer than that.
type CycleCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

func NewCycleCache() *CycleCache {
	return &CycleCache{entries: map[string]interface{}{}}
}

// Get returns the cached value for key, calling fill to produce it on the
// first lookup. Errors from fill are not cached.
func (c *CycleCache) Get(key string, fill func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		return v, nil
	}

	v, err := fill()
	if err != nil {
		return nil, err
	}
	c.entries[key] = v
	return v, nil
}

// Reset drops all cached entries. Called at the start of each handling cycle.
func (c *CycleCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]interface{}{}
}
