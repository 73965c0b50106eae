// Path: internal/storage/memory_registry.go
package storage

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryRegistry is an in-process registry store for tests and single
// instance development. Expired markers are dropped lazily on access.
type MemoryRegistry struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	markers map[string]time.Time
	now     func() time.Time
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithMemoryClock replaces time.Now for marker expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryRegistry) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(opts ...MemoryOption) *MemoryRegistry {
	m := &MemoryRegistry{
		hashes:  make(map[string]map[string]string),
		markers: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryRegistry) HSet(ctx context.Context, key, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryRegistry) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *MemoryRegistry) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.hashes[key]))
	maps.Copy(out, m.hashes[key])
	return out, nil
}

func (m *MemoryRegistry) HDel(ctx context.Context, key, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(m.hashes, key)
		}
	}
	return nil
}

func (m *MemoryRegistry) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hashes, key)
	delete(m.markers, key)
	return nil
}

func (m *MemoryRegistry) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markers[key] = m.now().Add(ttl)
	return nil
}

func (m *MemoryRegistry) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	return m.markerAlive(key), nil
}

func (m *MemoryRegistry) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range m.markers {
		if strings.HasPrefix(k, prefix) && m.markerAlive(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// markerAlive must be called with mu held for writing.
func (m *MemoryRegistry) markerAlive(key string) bool {
	exp, ok := m.markers[key]
	if !ok {
		return false
	}
	if !m.now().Before(exp) {
		delete(m.markers, key)
		return false
	}
	return true
}

// Healthcheck reports only context cancellation.
func (m *MemoryRegistry) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}
