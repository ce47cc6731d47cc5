package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoingest/videoingest/internal/chunkindex"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
)

func TestRunDeletesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	sessions := session.NewManager(store, chunkindex.NewMemoryIndex(), storage.NewMemoryStorage(), 24*time.Hour, 5*1024*1024*1024)

	expired, err := sessions.Init(ctx, "owner-1", "old.mp4", 20, 10, nil)
	require.NoError(t, err)
	_, err = store.UpdateSession(ctx, expired.ID, func(s *metadatastore.Session) error {
		s.ExpiresAt = time.Now().Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	fresh, err := sessions.Init(ctx, "owner-1", "new.mp4", 20, 10, nil)
	require.NoError(t, err)

	stats, err := Run(ctx, sessions)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SessionsExpired)
	assert.Equal(t, 0, stats.DeleteErrors)

	_, err = sessions.Get(ctx, expired.ID)
	assert.Error(t, err)

	_, err = sessions.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}
