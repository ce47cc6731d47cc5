package metadatastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/videoingest/videoingest/internal/apperror"
)

// PGStore is the pgx-backed Store. Schema (two tables, no sqlc generation
// layer in this pack — hand-written against pgx/pgxpool directly):
//
//	CREATE TABLE sessions (
//	  id                text PRIMARY KEY,
//	  owner             text NOT NULL,
//	  target_filename   text NOT NULL,
//	  original_filename text NOT NULL,
//	  file_size         bigint NOT NULL,
//	  chunk_size        bigint NOT NULL,
//	  total_chunks      integer NOT NULL,
//	  received          integer[] NOT NULL DEFAULT '{}',
//	  state             text NOT NULL,
//	  created_at        timestamptz NOT NULL,
//	  updated_at        timestamptz NOT NULL,
//	  expires_at        timestamptz NOT NULL,
//	  metadata          text NOT NULL DEFAULT '{}'
//	);
//	CREATE INDEX sessions_owner_idx ON sessions(owner);
//	CREATE INDEX sessions_expires_at_idx ON sessions(expires_at) WHERE state <> 'completed';
//
//	CREATE TABLE videos (
//	  id            text PRIMARY KEY,
//	  owner         text NOT NULL,
//	  title         text NOT NULL,
//	  description   text NOT NULL DEFAULT '',
//	  tags          text[] NOT NULL DEFAULT '{}',
//	  category      text NOT NULL,
//	  mime_type     text NOT NULL,
//	  storage_key   text NOT NULL,
//	  thumbnail_key text NOT NULL DEFAULT '',
//	  duration_s    double precision NOT NULL DEFAULT 0,
//	  resolution    text NOT NULL DEFAULT '',
//	  codec         text NOT NULL DEFAULT '',
//	  file_size     bigint NOT NULL DEFAULT 0,
//	  bitrate       bigint NOT NULL DEFAULT 0,
//	  state         text NOT NULL,
//	  views         bigint NOT NULL DEFAULT 0,
//	  likes         bigint NOT NULL DEFAULT 0,
//	  created_at    timestamptz NOT NULL,
//	  updated_at    timestamptz NOT NULL
//	);
//	CREATE UNIQUE INDEX videos_storage_key_idx ON videos(storage_key);
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

func (p *PGStore) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}

	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Received == nil {
		s.Received = make(map[int]struct{})
	}

	metadataJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions
			(id, owner, target_filename, original_filename, file_size, chunk_size,
			 total_chunks, received, state, created_at, updated_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		s.ID, s.Owner, s.TargetFilename, s.OriginalFilename, s.FileSize, s.ChunkSize,
		s.TotalChunks, sortedReceived(s.Received), string(s.State),
		s.CreatedAt, s.UpdatedAt, s.ExpiresAt, string(metadataJSON),
	)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func (p *PGStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner, target_filename, original_filename, file_size, chunk_size,
		       total_chunks, received, state, created_at, updated_at, expires_at, metadata
		FROM sessions WHERE id = $1
	`, id)

	return scanSession(row)
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		s            Session
		received     []int32
		state        string
		metadataJSON string
	)

	err := row.Scan(
		&s.ID, &s.Owner, &s.TargetFilename, &s.OriginalFilename, &s.FileSize, &s.ChunkSize,
		&s.TotalChunks, &received, &state, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &metadataJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	s.State = SessionState(state)
	s.Received = make(map[int]struct{}, len(received))
	for _, idx := range received {
		s.Received[int(idx)] = struct{}{}
	}

	if err := json.Unmarshal([]byte(metadataJSON), &s.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &s, nil
}

// UpdateSession opens a transaction, locks the row with "select ... for
// update", runs mutator against the locked snapshot, and commits the
// result. The invariant that `received` is immutable once a session is
// completed or failed is enforced here regardless of what
// mutator attempts.
func (p *PGStore) UpdateSession(ctx context.Context, id string, mutator SessionMutator) (*Session, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, owner, target_filename, original_filename, file_size, chunk_size,
		       total_chunks, received, state, created_at, updated_at, expires_at, metadata
		FROM sessions WHERE id = $1 FOR UPDATE
	`, id)

	current, err := scanSession(row)
	if err != nil {
		return nil, err
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

	metadataJSON, err := json.Marshal(working.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET received = $2, state = $3, updated_at = $4, metadata = $5
		WHERE id = $1
	`, id, sortedReceived(working.Received), string(working.State), working.UpdatedAt, string(metadataJSON))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	return working, nil
}

func (p *PGStore) DeleteSession(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func (p *PGStore) FindExpiredSessions(ctx context.Context, now time.Time) ([]*Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner, target_filename, original_filename, file_size, chunk_size,
		       total_chunks, received, state, created_at, updated_at, expires_at, metadata
		FROM sessions
		WHERE expires_at < $1 AND state <> 'completed'
	`, now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PGStore) ListSessionsByOwner(ctx context.Context, owner string) ([]*Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner, target_filename, original_filename, file_size, chunk_size,
		       total_chunks, received, state, created_at, updated_at, expires_at, metadata
		FROM sessions
		WHERE owner = $1
	`, owner)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PGStore) CreateVideo(ctx context.Context, v *Video) error {
	if v.ID == "" {
		return fmt.Errorf("video id is required")
	}

	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := p.pool.Exec(ctx, `
		INSERT INTO videos
			(id, owner, title, description, tags, category, mime_type, storage_key,
			 thumbnail_key, duration_s, resolution, codec, file_size, bitrate, state,
			 views, likes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (storage_key) DO NOTHING
	`,
		v.ID, v.Owner, v.Title, v.Description, v.Tags, v.Category, v.MimeType, v.StorageKey,
		v.ThumbnailKey, v.DurationS, v.Resolution, v.Codec, v.FileSize, v.Bitrate, string(v.State),
		v.Views, v.Likes, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func (p *PGStore) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner, title, description, tags, category, mime_type, storage_key,
		       thumbnail_key, duration_s, resolution, codec, file_size, bitrate, state,
		       views, likes, created_at, updated_at
		FROM videos WHERE id = $1
	`, id)
	return scanVideo(row)
}

func (p *PGStore) GetVideoByStorageKey(ctx context.Context, storageKey string) (*Video, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, owner, title, description, tags, category, mime_type, storage_key,
		       thumbnail_key, duration_s, resolution, codec, file_size, bitrate, state,
		       views, likes, created_at, updated_at
		FROM videos WHERE storage_key = $1
	`, storageKey)
	return scanVideo(row)
}

func scanVideo(row pgx.Row) (*Video, error) {
	var (
		v     Video
		state string
	)

	err := row.Scan(
		&v.ID, &v.Owner, &v.Title, &v.Description, &v.Tags, &v.Category, &v.MimeType, &v.StorageKey,
		&v.ThumbnailKey, &v.DurationS, &v.Resolution, &v.Codec, &v.FileSize, &v.Bitrate, &state,
		&v.Views, &v.Likes, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}
	v.State = VideoState(state)
	return &v, nil
}

func (p *PGStore) UpdateVideo(ctx context.Context, id string, mutator VideoMutator) (*Video, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, owner, title, description, tags, category, mime_type, storage_key,
		       thumbnail_key, duration_s, resolution, codec, file_size, bitrate, state,
		       views, likes, created_at, updated_at
		FROM videos WHERE id = $1 FOR UPDATE
	`, id)

	current, err := scanVideo(row)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := mutator(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE videos
		SET title=$2, description=$3, tags=$4, category=$5, mime_type=$6, storage_key=$7,
		    thumbnail_key=$8, duration_s=$9, resolution=$10, codec=$11, file_size=$12,
		    bitrate=$13, state=$14, views=$15, likes=$16, updated_at=$17
		WHERE id=$1
	`,
		id, working.Title, working.Description, working.Tags, working.Category, working.MimeType,
		working.StorageKey, working.ThumbnailKey, working.DurationS, working.Resolution,
		working.Codec, working.FileSize, working.Bitrate, string(working.State),
		working.Views, working.Likes, working.UpdatedAt,
	)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransient)
	}

	return working, nil
}
