// Package metadatastore implements the Metadata Store (C2): the durable
// record of upload sessions and video assets, with transactional updates.
package metadatastore

import (
	"context"
	"time"
)

// SessionState is one of the four states in the upload session lifecycle.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionUploading SessionState = "uploading"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// VideoState is the post-assembly lifecycle of a video asset.
type VideoState string

const (
	VideoProcessing VideoState = "processing"
	VideoReady      VideoState = "ready"
	VideoFailed     VideoState = "failed"
)

// Session is the unit of a chunked upload.
type Session struct {
	ID               string
	Owner            string
	TargetFilename   string
	OriginalFilename string
	FileSize         int64
	ChunkSize        int64
	TotalChunks      int
	Received         map[int]struct{}
	State            SessionState
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
	Metadata         map[string]any
}

// Clone returns a deep-enough copy safe for a mutator to manipulate without
// corrupting the caller's view on failure.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Received = make(map[int]struct{}, len(s.Received))
	for k := range s.Received {
		clone.Received[k] = struct{}{}
	}
	clone.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// ReceivedCount returns |received|.
func (s *Session) ReceivedCount() int {
	return len(s.Received)
}

// IsComplete reports whether every chunk index has been received.
func (s *Session) IsComplete() bool {
	return len(s.Received) == s.TotalChunks
}

// Video is the product of a completed session.
type Video struct {
	ID           string
	Owner        string
	Title        string
	Description  string
	Tags         []string
	Category     string
	MimeType     string
	StorageKey   string
	ThumbnailKey string
	DurationS    float64
	Resolution   string
	Codec        string
	FileSize     int64
	Bitrate      int64
	State        VideoState
	Views        int64
	Likes        int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (v *Video) Clone() *Video {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Tags = append([]string(nil), v.Tags...)
	return &clone
}

// SessionMutator inspects and optionally modifies a session's received set
// and state while the row is locked. Returning an error aborts the update
// without persisting any change.
type SessionMutator func(*Session) error

// VideoMutator is the video-row equivalent of SessionMutator.
type VideoMutator func(*Video) error

// Store is the C2 Metadata Store contract.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession locks the row, runs mutator, and persists the result.
	// Returns apperror.ErrConflict if mutator tries to change Received on a
	// session whose pre-mutation state was completed or failed.
	UpdateSession(ctx context.Context, id string, mutator SessionMutator) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	FindExpiredSessions(ctx context.Context, now time.Time) ([]*Session, error)
	ListSessionsByOwner(ctx context.Context, owner string) ([]*Session, error)

	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	// GetVideoByStorageKey supports C8's idempotent create_video check,
	// so it is provided here rather than a scan.
	GetVideoByStorageKey(ctx context.Context, storageKey string) (*Video, error)
	UpdateVideo(ctx context.Context, id string, mutator VideoMutator) (*Video, error)
}

func sortedReceived(received map[int]struct{}) []int32 {
	out := make([]int32, 0, len(received))
	for idx := range received {
		out = append(out, int32(idx))
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
