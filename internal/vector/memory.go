package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process index with the same surface as Client. It backs
// unit tests and local development without a running Qdrant.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
	creations   int
}

type memoryCollection struct {
	dimension int
	distance  string
	points    map[string]Point
}

// NewMemory builds an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

// EnsureCollection mirrors the Qdrant semantics: creating an existing
// collection is success, and concurrent creators never both fail.
func (m *Memory) EnsureCollection(_ context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return fmt.Errorf("memory index: invalid dimension %d", dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.collections[name]; ok {
		if existing.dimension != dimension {
			return fmt.Errorf("memory index: collection %s exists with dimension %d, want %d", name, existing.dimension, dimension)
		}
		return nil
	}
	m.collections[name] = &memoryCollection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[string]Point),
	}
	m.creations++
	return nil
}

// Creations reports how many distinct collection creations happened.
func (m *Memory) Creations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creations
}

// Upsert stores points keyed by id; re-upserting an id overwrites it.
func (m *Memory) Upsert(_ context.Context, collection string, points []Point, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("memory index: collection %s does not exist", collection)
	}
	for _, p := range points {
		if len(p.Vector) != col.dimension {
			return fmt.Errorf("memory index: point %s has dimension %d, collection wants %d", p.ID, len(p.Vector), col.dimension)
		}
		col.points[p.ID] = p
	}
	return nil
}

// Count returns the number of points stored in the collection.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.collections[collection]; ok {
		return len(col.points)
	}
	return 0
}

// Search ranks all points by cosine similarity, descending.
func (m *Memory) Search(_ context.Context, collection string, vector []float32, topK int, _ bool) ([]ScoredPoint, error) {
	if topK <= 0 {
		topK = 5
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	results := make([]ScoredPoint, 0, len(col.points))
	for _, p := range col.points {
		results = append(results, ScoredPoint{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes all points whose payload references documentID.
func (m *Memory) DeleteByDocument(_ context.Context, collection, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for id, p := range col.points {
		if p.Payload.DocumentID == documentID {
			delete(col.points, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
