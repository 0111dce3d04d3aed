package paramstore

import (
	"context"
	"errors"
	"sync"
)

// Cached memoizes parameter values for the lifetime of the process, so
// per-request reads (the persona prompt) hit SSM once per cold start.
type Cached struct {
	getter Getter

	mu     sync.Mutex
	values map[string]string
}

// NewCached wraps g with a process-lifetime cache.
func NewCached(g Getter) (*Cached, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	return &Cached{getter: g, values: make(map[string]string)}, nil
}

// GetParameter returns the cached value when present, otherwise fetches and
// caches it. Failed fetches are not cached, so a transient SSM error does
// not poison later requests.
func (c *Cached) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.values[name]; ok {
		return v, nil
	}
	v, err := c.getter.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	c.values[name] = v
	return v, nil
}
