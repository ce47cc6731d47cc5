package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/storage"
)

func newTestManager() *Manager {
	return NewManager(
		metadatastore.NewMemoryStore(),
		chunkindex.NewMemoryIndex(),
		storage.NewMemoryStorage(),
		24*time.Hour,
		5*1024*1024*1024,
	)
}

func TestInitComputesTotalChunks(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	s, err := m.Init(ctx, "owner-1", "movie.mp4", 2_621_440, 1_048_576, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalChunks)
	assert.Equal(t, metadatastore.SessionPending, s.State)
	assert.Equal(t, ".mp4", s.TargetFilename[len(s.TargetFilename)-4:])
}

func TestInitRejectsOversizedFile(t *testing.T) {
	m := newTestManager()
	_, err := m.Init(context.Background(), "owner-1", "movie.mp4", 6*1024*1024*1024, 1024, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrInvalidInput.Code, apperror.Code(err))
}

func TestRecordChunkReachesCompletedOnLastChunk(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	s, err := m.Init(ctx, "owner-1", "movie.mp4", 3000, 1000, nil)
	require.NoError(t, err)

	for _, idx := range []int{0, 1} {
		updated, err := m.RecordChunk(ctx, s.ID, idx)
		require.NoError(t, err)
		assert.Equal(t, metadatastore.SessionUploading, updated.State)
	}

	final, err := m.RecordChunk(ctx, s.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, metadatastore.SessionCompleted, final.State)
	assert.Len(t, final.Received, 3)
}

func TestRecordChunkIsOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(order []int) map[int]struct{} {
		m := newTestManager()
		s, err := m.Init(ctx, "owner-1", "movie.mp4", 3000, 1000, nil)
		require.NoError(t, err)
		var last *metadatastore.Session
		for _, idx := range order {
			last, err = m.RecordChunk(ctx, s.ID, idx)
			require.NoError(t, err)
		}
		return last.Received
	}

	a := run([]int{0, 1, 2})
	b := run([]int{2, 0, 1})
	assert.Equal(t, a, b)
}

func TestRecordChunkDuplicateIsIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 3000, 1000, nil)
	require.NoError(t, err)

	first, err := m.RecordChunk(ctx, s.ID, 1)
	require.NoError(t, err)
	second, err := m.RecordChunk(ctx, s.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, first.Received, second.Received)
	assert.Len(t, second.Received, 1)
}

func TestRecordChunkOnTerminalSessionIsNoop(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 1000, 1000, nil)
	require.NoError(t, err)

	_, err = m.MarkFailed(ctx, s.ID)
	require.NoError(t, err)

	result, err := m.RecordChunk(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, metadatastore.SessionFailed, result.State)
	assert.Empty(t, result.Received)
}

func TestResumeReturnsMissingChunks(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 3000, 1000, nil)
	require.NoError(t, err)
	_, err = m.RecordChunk(ctx, s.ID, 1)
	require.NoError(t, err)

	result, err := m.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 2}, result.MissingChunks)
}

func TestResumeOnFailedSessionWithChunksTransitionsToUploading(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 3000, 1000, nil)
	require.NoError(t, err)
	_, err = m.RecordChunk(ctx, s.ID, 0)
	require.NoError(t, err)
	_, err = m.MarkFailed(ctx, s.ID)
	require.NoError(t, err)

	result, err := m.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, metadatastore.SessionUploading, result.State)
}

func TestResumeRejectsCompletedSession(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 1000, 1000, nil)
	require.NoError(t, err)
	_, err = m.RecordChunk(ctx, s.ID, 0)
	require.NoError(t, err)

	_, err = m.Resume(ctx, s.ID)
	assert.Error(t, err)
}

func TestDeleteRemovesSessionAndChunkBlobs(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.Init(ctx, "owner-1", "movie.mp4", 2000, 1000, nil)
	require.NoError(t, err)

	require.NoError(t, m.storage.Upload(ctx, ChunkKey(s.ID, 0), bytes.NewReader(nil), "application/octet-stream", 0))
	require.NoError(t, m.Delete(ctx, s.ID))

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	exists, err := m.storage.Exists(ctx, ChunkKey(s.ID, 0))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFindExpiredReturnsOnlyPastExpiry(t *testing.T) {
	m := newTestManager()
	m.sessionTTL = -time.Hour // force immediate expiry for this test
	ctx := context.Background()

	s, err := m.Init(ctx, "owner-1", "movie.mp4", 1000, 1000, nil)
	require.NoError(t, err)

	expired, err := m.FindExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, s.ID, expired[0].ID)
}
