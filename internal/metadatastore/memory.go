package metadatastore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/videoingest/videoingest/internal/apperror"
)

// MemoryStore is an in-memory Store for tests, guarding every row with the
// same row-lock discipline the pgx implementation gets from
// "select ... for update": one mutex per store, held for the duration of a
// mutator call.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	videos   map[string]*Video
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		videos:   make(map[string]*Video),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := m.sessions[s.ID]; exists {
		return apperror.ErrConflict
	}

	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Received == nil {
		s.Received = make(map[int]struct{})
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, mutator SessionMutator) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}

	preState := current.State
	preCount := current.ReceivedCount()

	working := current.Clone()
	if err := mutator(working); err != nil {
		return nil, err
	}

	if preState == SessionCompleted || preState == SessionFailed {
		if working.ReceivedCount() != preCount {
			return nil, apperror.ErrConflict
		}
		for idx := range working.Received {
			if _, ok := current.Received[idx]; !ok {
				return nil, apperror.ErrConflict
			}
		}
	}

	working.UpdatedAt = time.Now().UTC()
	m.sessions[id] = working.Clone()
	return working.Clone(), nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) FindExpiredSessions(ctx context.Context, now time.Time) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.ExpiresAt.Before(now) && s.State != SessionCompleted {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSessionsByOwner(ctx context.Context, owner string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Owner == owner {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateVideo(ctx context.Context, v *Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if _, exists := m.videos[v.ID]; exists {
		return apperror.ErrConflict
	}

	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	m.videos[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStore) GetVideo(ctx context.Context, id string) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.videos[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryStore) GetVideoByStorageKey(ctx context.Context, storageKey string) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.videos {
		if v.StorageKey == storageKey {
			return v.Clone(), nil
		}
	}
	return nil, apperror.ErrNotFound
}

func (m *MemoryStore) UpdateVideo(ctx context.Context, id string, mutator VideoMutator) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.videos[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}

	working := current.Clone()
	if err := mutator(working); err != nil {
		return nil, err
	}

	working.UpdatedAt = time.Now().UTC()
	m.videos[id] = working.Clone()
	return working.Clone(), nil
}
