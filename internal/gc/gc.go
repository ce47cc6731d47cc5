// Package gc implements the expired-session sweep: one-shot cleanup of
// upload sessions whose expires_at has passed, and any chunk blobs they
// still own. Grounded on the teacher's internal/worker/cleanup.go shape
// (batch-scan, delete, tally stats, log once at the end) generalized
// from soft-deleted/retention-expired files to expired sessions.
package gc

import (
	"context"
	"time"

	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/session"
)

// Stats tallies one sweep's outcome.
type Stats struct {
	SessionsExpired int
	DeleteErrors    int
}

// Run finds every session past its expiry and deletes it (chunk blobs,
// chunk index, session row) via the session manager, which already
// tolerates a session disappearing mid-sweep.
func Run(ctx context.Context, sessions *session.Manager) (*Stats, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	expired, err := sessions.FindExpired(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, sess := range expired {
		if err := sessions.Delete(ctx, sess.ID); err != nil {
			log.Warn("gc: failed to delete expired session", "session_id", sess.ID, "error", err)
			stats.DeleteErrors++
			continue
		}
		metrics.RecordSessionExpired()
		stats.SessionsExpired++
	}

	log.Info("gc sweep completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"sessions_expired", stats.SessionsExpired,
		"delete_errors", stats.DeleteErrors,
	)

	return stats, nil
}
