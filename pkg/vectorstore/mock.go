package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by tests in place of a real Qdrant
// instance, matching spec.md §9's {Real, Mock} capability-trait note.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point // collection -> id -> point
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]map[string]Point)}
}

func (m *MemStore) EnsureCollection(ctx context.Context, name string, vectorDim int, distance Distance, hnsw HNSWParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Point)
	}
	return nil
}

func (m *MemStore) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]Point)
	}
	for _, p := range points {
		m.collections[collection][p.ID] = p
	}
	return nil
}

func (m *MemStore) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if offset != "" {
		for i, id := range ids {
			if id == offset {
				start = i + 1
				break
			}
		}
	}

	var out []Point
	end := start
	for end < len(ids) && (limit <= 0 || len(out) < limit) {
		p := m.collections[collection][ids[end]]
		if matches(p, filter) {
			out = append(out, p)
		}
		end++
	}

	var next string
	if end < len(ids) {
		next = ids[end-1]
	}
	return out, next, nil
}

func matches(p Point, f Filter) bool {
	for k, v := range f.MatchPayload {
		if p.Payload[k] != v {
			return false
		}
	}
	return true
}

func (m *MemStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (m *MemStore) UpdateCollection(ctx context.Context, collection string, hnsw HNSWParams) error {
	return nil
}

// Count returns the number of points in a collection, for test assertions.
func (m *MemStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Has reports whether a point with the given id exists, for test assertions.
func (m *MemStore) Has(collection, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[collection][id]
	return ok
}
