package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoingest/videoingest/internal/apperror"
)

func newTestSession(id string) *Session {
	return &Session{
		ID:               id,
		Owner:            "owner-1",
		TargetFilename:   id + ".mp4",
		OriginalFilename: "movie.mp4",
		FileSize:         3000,
		ChunkSize:        1000,
		TotalChunks:      3,
		Received:         map[int]struct{}{},
		State:            SessionPending,
		ExpiresAt:        time.Now().Add(24 * time.Hour),
		Metadata:         map[string]any{"title": "movie"},
	}
}

func TestMemoryStoreCreateAndGetSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := newTestSession("sess-1")
	require.NoError(t, store.CreateSession(ctx, s))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.Owner)
	assert.Equal(t, SessionPending, got.State)
}

func TestMemoryStoreGetSessionNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestMemoryStoreUpdateSessionTransitionsToCompleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-2")))

	for _, idx := range []int{0, 1, 2} {
		updated, err := store.UpdateSession(ctx, "sess-2", func(s *Session) error {
			s.Received[idx] = struct{}{}
			if s.IsComplete() {
				s.State = SessionCompleted
			} else {
				s.State = SessionUploading
			}
			return nil
		})
		require.NoError(t, err)
		if idx < 2 {
			assert.Equal(t, SessionUploading, updated.State)
		} else {
			assert.Equal(t, SessionCompleted, updated.State)
		}
	}
}

func TestMemoryStoreUpdateSessionRejectsMutationAfterCompletion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newTestSession("sess-3")
	s.State = SessionCompleted
	s.Received = map[int]struct{}{0: {}, 1: {}, 2: {}}
	require.NoError(t, store.CreateSession(ctx, s))

	_, err := store.UpdateSession(ctx, "sess-3", func(s *Session) error {
		s.Received[0] = struct{}{}
		delete(s.Received, 1)
		return nil
	})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestMemoryStoreUpdateSessionIdempotentRedelivery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newTestSession("sess-4")
	s.Received = map[int]struct{}{0: {}}
	s.State = SessionUploading
	require.NoError(t, store.CreateSession(ctx, s))

	updated, err := store.UpdateSession(ctx, "sess-4", func(s *Session) error {
		s.Received[0] = struct{}{}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.Received, 1)
	assert.Equal(t, SessionUploading, updated.State)
}

func TestMemoryStoreFindExpiredSessionsExcludesCompleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := newTestSession("sess-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateSession(ctx, expired))

	expiredButDone := newTestSession("sess-expired-done")
	expiredButDone.ExpiresAt = time.Now().Add(-time.Hour)
	expiredButDone.State = SessionCompleted
	require.NoError(t, store.CreateSession(ctx, expiredButDone))

	fresh := newTestSession("sess-fresh")
	require.NoError(t, store.CreateSession(ctx, fresh))

	results, err := store.FindExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sess-expired", results[0].ID)
}

func TestMemoryStoreVideoLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	v := &Video{
		ID:         "vid-1",
		Owner:      "owner-1",
		Title:      "movie",
		Category:   "general",
		MimeType:   "video/mp4",
		StorageKey: "uploads/movie.mp4",
		State:      VideoProcessing,
	}
	require.NoError(t, store.CreateVideo(ctx, v))

	byKey, err := store.GetVideoByStorageKey(ctx, "uploads/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", byKey.ID)

	updated, err := store.UpdateVideo(ctx, "vid-1", func(v *Video) error {
		v.State = VideoReady
		v.DurationS = 42.5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, VideoReady, updated.State)
	assert.Equal(t, 42.5, updated.DurationS)
}
