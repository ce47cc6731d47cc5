// Package session implements the Upload Session Manager (C5): the state
// machine for a chunked upload and the only writer of chunk-received facts.
package session

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/storage"
)

// ResumeResult is the reply to resume(session_id).
type ResumeResult struct {
	MissingChunks []int                      `json:"missing_chunks"`
	State         metadatastore.SessionState `json:"state"`
}

// Manager owns the session state machine, composing the metadata store (C2)
// and chunk index (C3).
type Manager struct {
	store       metadatastore.Store
	index       chunkindex.Index
	storage     storage.Storage
	sessionTTL  time.Duration
	maxFileSize int64
}

func NewManager(store metadatastore.Store, index chunkindex.Index, blobs storage.Storage, sessionTTL time.Duration, maxFileSize int64) *Manager {
	return &Manager{
		store:       store,
		index:       index,
		storage:     blobs,
		sessionTTL:  sessionTTL,
		maxFileSize: maxFileSize,
	}
}

// Init validates and creates a new session in state pending.
func (m *Manager) Init(ctx context.Context, owner, originalFilename string, fileSize, chunkSize int64, metadata map[string]any) (*metadatastore.Session, error) {
	if fileSize < 1 || fileSize > m.maxFileSize {
		return nil, apperror.Wrap(fmt.Errorf("file_size %d out of bounds [1, %d]", fileSize, m.maxFileSize), apperror.ErrInvalidInput)
	}
	if chunkSize < 1 {
		return nil, apperror.Wrap(fmt.Errorf("chunk_size must be >= 1"), apperror.ErrInvalidInput)
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}

	totalChunks := int(math.Ceil(float64(fileSize) / float64(chunkSize)))
	id := uuid.NewString()
	targetFilename := id + filepath.Ext(originalFilename)
	now := time.Now().UTC()

	s := &metadatastore.Session{
		ID:               id,
		Owner:            owner,
		TargetFilename:   targetFilename,
		OriginalFilename: originalFilename,
		FileSize:         fileSize,
		ChunkSize:        chunkSize,
		TotalChunks:      totalChunks,
		Received:         make(map[int]struct{}),
		State:            metadatastore.SessionPending,
		ExpiresAt:        now.Add(m.sessionTTL),
		Metadata:         metadata,
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session or NotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*metadatastore.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ListByOwner lists every session belonging to owner.
func (m *Manager) ListByOwner(ctx context.Context, owner string) ([]*metadatastore.Session, error) {
	return m.store.ListSessionsByOwner(ctx, owner)
}

// FindExpired returns sessions eligible for GC.
func (m *Manager) FindExpired(ctx context.Context, now time.Time) ([]*metadatastore.Session, error) {
	return m.store.FindExpiredSessions(ctx, now)
}

// RecordChunk is the hot path. It tries the C3
// accelerator first and falls back to a C2-serialised update when C3 is
// unavailable; both paths are idempotent under redelivery.
func (m *Manager) RecordChunk(ctx context.Context, sessionID string, chunkIndex int) (*metadatastore.Session, error) {
	log := logger.FromContext(ctx)

	current, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.State == metadatastore.SessionCompleted || current.State == metadatastore.SessionFailed {
		return current, nil
	}
	if chunkIndex < 0 || chunkIndex >= current.TotalChunks {
		return nil, apperror.Wrap(fmt.Errorf("chunk_index %d out of range [0,%d)", chunkIndex, current.TotalChunks), apperror.ErrInvalidInput)
	}

	members, completed, err := m.recordViaIndex(ctx, sessionID, chunkIndex, current.TotalChunks)
	if err != nil {
		log.Warn("chunk index unavailable, falling back to metadata store", "session_id", sessionID, "error", err)
		return m.recordViaFallback(ctx, sessionID, chunkIndex)
	}

	updated, err := m.store.UpdateSession(ctx, sessionID, func(s *metadatastore.Session) error {
		s.Received = make(map[int]struct{}, len(members))
		for _, idx := range members {
			s.Received[idx] = struct{}{}
		}
		if completed {
			s.State = metadatastore.SessionCompleted
		} else if s.State == metadatastore.SessionPending {
			s.State = metadatastore.SessionUploading
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.State == metadatastore.SessionCompleted {
		if err := m.index.Del(ctx, sessionID); err != nil {
			log.Warn("best-effort chunk index cleanup failed", "session_id", sessionID, "error", err)
		}
	}

	return updated, nil
}

func (m *Manager) recordViaIndex(ctx context.Context, sessionID string, chunkIndex, totalChunks int) ([]int, bool, error) {
	if err := m.index.SAdd(ctx, sessionID, chunkIndex); err != nil {
		return nil, false, err
	}
	if err := m.index.Expire(ctx, sessionID, chunkindex.TTL); err != nil {
		return nil, false, err
	}

	count, err := m.index.SCard(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	members, err := m.index.SMembers(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	sort.Ints(members)

	return members, int(count) == totalChunks, nil
}

// recordViaFallback opens a serialisable transaction directly on the
// session row, using UpdateSession's row lock instead of the chunk index.
func (m *Manager) recordViaFallback(ctx context.Context, sessionID string, chunkIndex int) (*metadatastore.Session, error) {
	return m.store.UpdateSession(ctx, sessionID, func(s *metadatastore.Session) error {
		if s.State == metadatastore.SessionCompleted || s.State == metadatastore.SessionFailed {
			return nil
		}
		s.Received[chunkIndex] = struct{}{}
		if s.IsComplete() {
			s.State = metadatastore.SessionCompleted
		} else if s.State == metadatastore.SessionPending {
			s.State = metadatastore.SessionUploading
		}
		return nil
	})
}

// MarkFailed transitions a session to failed (e.g. assembly detected a
// contradiction).
func (m *Manager) MarkFailed(ctx context.Context, sessionID string) (*metadatastore.Session, error) {
	return m.store.UpdateSession(ctx, sessionID, func(s *metadatastore.Session) error {
		s.State = metadatastore.SessionFailed
		return nil
	})
}

// MarkPending reopens a failed session so the client may resume it: it goes
// back to pending when no chunk has been received yet, and to uploading
// otherwise. Per DESIGN.md's Open Question decision, any failed
// session is unconditionally resumable.
func (m *Manager) MarkPending(ctx context.Context, sessionID string) (*metadatastore.Session, error) {
	return m.store.UpdateSession(ctx, sessionID, func(s *metadatastore.Session) error {
		if s.State != metadatastore.SessionFailed {
			return apperror.ErrConflict
		}
		if len(s.Received) == 0 {
			s.State = metadatastore.SessionPending
		} else {
			s.State = metadatastore.SessionUploading
		}
		return nil
	})
}

// Resume reports which chunks are still missing.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*ResumeResult, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State == metadatastore.SessionCompleted {
		return nil, apperror.Wrap(fmt.Errorf("session %s already complete", sessionID), apperror.ErrInvalidInput)
	}

	if s.State == metadatastore.SessionFailed {
		if _, err := m.MarkPending(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	missing := make([]int, 0, s.TotalChunks-len(s.Received))
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.Received[i]; !ok {
			missing = append(missing, i)
		}
	}

	refreshed, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &ResumeResult{MissingChunks: missing, State: refreshed.State}, nil
}

// Delete removes the session's canonical chunk blobs, its chunk-index entry
// and the session row; temp chunk blobs are not removed. A missing session
// is not an error.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if apperror.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}

	for i := 0; i < s.TotalChunks; i++ {
		key := ChunkKey(sessionID, i)
		if err := m.storage.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).Warn("failed to delete chunk blob during session delete", "key", key, "error", err)
		}
	}

	if err := m.index.Del(ctx, sessionID); err != nil {
		logger.FromContext(ctx).Warn("failed to clear chunk index during session delete", "session_id", sessionID, "error", err)
	}

	return m.store.DeleteSession(ctx, sessionID)
}

// ChunkKey is the canonical storage key for a committed chunk.
func ChunkKey(sessionID string, index int) string {
	return fmt.Sprintf("chunks/%s_chunk_%d", sessionID, index)
}

// TempChunkKey is the scratch key a chunk is streamed to before rename.
func TempChunkKey(ts int64, rand string) string {
	return fmt.Sprintf("chunks/temp_%d_%s", ts, rand)
}

// UploadKey is the canonical storage key for an assembled original.
func UploadKey(targetFilename string) string {
	return "uploads/" + targetFilename
}

// ThumbnailKey is the canonical storage key for a video's thumbnail.
func ThumbnailKey(videoID string) string {
	return fmt.Sprintf("thumbnails/%s.jpg", videoID)
}
