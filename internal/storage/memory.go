package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.RWMutex
	nations  map[string]Nation
	regions  map[string]Region
	ingested time.Time
	dedup    map[string]time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		nations: map[string]Nation{},
		regions: map[string]Region{},
		dedup:   map[string]time.Time{},
	}
}

func (m *memoryStore) GetNation(_ context.Context, name string) (Nation, error) {
	key := NormalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nations[key]
	if !ok {
		return Nation{}, fmt.Errorf("nation %q: %w", key, ErrNotFound)
	}
	return n, nil
}

func (m *memoryStore) withIndex(r Region) Region {
	r.FirstIndex = 0
	if n, ok := m.nations[r.FirstNation]; ok {
		r.FirstIndex = n.Index
	}
	return r
}

func (m *memoryStore) GetRegion(_ context.Context, name string) (Region, error) {
	key := NormalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[key]
	if !ok {
		return Region{}, fmt.Errorf("region %q: %w", key, ErrNotFound)
	}
	return m.withIndex(r), nil
}

func (m *memoryStore) CountNations(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nations), nil
}

func (m *memoryStore) CountRegions(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions), nil
}

func (m *memoryStore) ListRegions(_ context.Context, limit int) ([]Region, error) {
	m.mu.RLock()
	out := make([]Region, 0, len(m.regions))
	for _, r := range m.regions {
		out = append(out, m.withIndex(r))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.FirstIndex == 0) != (b.FirstIndex == 0) {
			return b.FirstIndex == 0
		}
		if a.FirstIndex != b.FirstIndex {
			return a.FirstIndex < b.FirstIndex
		}
		return a.Name < b.Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ReplaceWorld(_ context.Context, w World) error {
	nations := make(map[string]Nation, len(w.Nations))
	for _, n := range w.Nations {
		n.Name = NormalizeName(n.Name)
		n.Region = NormalizeName(n.Region)
		nations[n.Name] = n
	}
	regions := make(map[string]Region, len(w.Regions))
	for _, r := range w.Regions {
		r.Name = NormalizeName(r.Name)
		r.FirstNation = NormalizeName(r.FirstNation)
		r.Delegate = NormalizeName(r.Delegate)
		r.Founder = NormalizeName(r.Founder)
		r.FirstIndex = 0
		regions[r.Name] = r
	}
	at := w.IngestedAt
	if at.IsZero() {
		at = time.Now()
	}

	m.mu.Lock()
	m.nations = nations
	m.regions = regions
	m.ingested = at
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) LastIngest(context.Context) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ingested, !m.ingested.IsZero(), nil
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.dedup[key] = until
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *memoryStore) Close() error { return nil }
