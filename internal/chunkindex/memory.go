package chunkindex

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryIndex is an in-memory Index for tests and for the C3-unavailable
// fallback path, grounded on the shared-set-with-in-memory-fallback shape
// of the Obiente-Cloud chunk-upload manager in the example pack.
type MemoryIndex struct {
	mu   sync.Mutex
	sets map[string]map[int]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sets: make(map[string]map[int]struct{})}
}

var _ Index = (*MemoryIndex)(nil)

func (m *MemoryIndex) SAdd(ctx context.Context, sessionID string, chunkIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[sessionID]
	if !ok {
		set = make(map[int]struct{})
		m.sets[sessionID] = set
	}
	set[chunkIndex] = struct{}{}
	return nil
}

func (m *MemoryIndex) SCard(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[sessionID])), nil
}

func (m *MemoryIndex) SMembers(ctx context.Context, sessionID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[sessionID]
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

func (m *MemoryIndex) Del(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, sessionID)
	return nil
}

func (m *MemoryIndex) Expire(ctx context.Context, sessionID string, ttl time.Duration) error {
	return nil
}
