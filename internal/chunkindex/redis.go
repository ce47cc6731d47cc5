package chunkindex

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/videoingest/videoingest/internal/apperror"
)

// RedisIndex implements Index on a redis.Client's SADD/SCARD/SMEMBERS/DEL/
// EXPIRE, mirroring the direct redis.NewClient wiring file.cheap's
// cmd/worker/main.go does for its broker.
type RedisIndex struct {
	client *redis.Client
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

var _ Index = (*RedisIndex)(nil)

func (r *RedisIndex) SAdd(ctx context.Context, sessionID string, chunkIndex int) error {
	if err := r.client.SAdd(ctx, key(sessionID), chunkIndex).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func (r *RedisIndex) SCard(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.client.SCard(ctx, key(sessionID)).Result()
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrTransient)
	}
	return n, nil
}

func (r *RedisIndex) SMembers(ctx context.Context, sessionID string) ([]int, error) {
	raw, err := r.client.SMembers(ctx, key(sessionID)).Result()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	out := make([]int, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (r *RedisIndex) Del(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func (r *RedisIndex) Expire(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key(sessionID), ttl).Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}
