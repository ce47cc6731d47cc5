// Package chunkindex implements the Chunk Index (C3): a fast ephemeral
// per-session set of received chunk indices with TTL, fronting the
// authoritative metadata store. Durability is not required here — every
// write is followed by a persistent write to C2 in the same logical step
// (see internal/session).
package chunkindex

import (
	"context"
	"time"
)

// TTL is refreshed on every write.
const TTL = 24 * time.Hour

// Index is the C3 contract.
type Index interface {
	SAdd(ctx context.Context, sessionID string, chunkIndex int) error
	SCard(ctx context.Context, sessionID string) (int64, error)
	SMembers(ctx context.Context, sessionID string) ([]int, error)
	Del(ctx context.Context, sessionID string) error
	Expire(ctx context.Context, sessionID string, ttl time.Duration) error
}

func key(sessionID string) string {
	return "chunkindex:" + sessionID
}
