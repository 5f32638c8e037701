package vector

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	vec      []float32
	metadata map[string]any
}

// MemoryIndex is a brute-force cosine index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]entry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = entry{vec: append([]float32(nil), vec...), metadata: md}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vec []float32, k int, filter Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		if !filter.matches(e.metadata) {
			continue
		}
		score, err := Cosine(vec, e.vec)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: id, Score: score, Metadata: e.metadata})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
