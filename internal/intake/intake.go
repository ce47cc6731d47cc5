// Package intake implements the Chunk Intake Handler (C6): the HTTP-adjacent
// surface that accepts one multipart chunk per request, stores it to a temp
// blob, and enqueues a CommitChunk message for asynchronous commit.
package intake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/workbus"
)

// MaxChunkBytes is the largest single chunk body accepted.
const MaxChunkBytes = 10 * 1024 * 1024

// CommitChunkPayload is the job envelope published onto the chunk_processing
// pipeline once a chunk is safely stored at its temp key.
type CommitChunkPayload struct {
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
	TempKey    string `json:"temp_key"`
	Owner      string `json:"owner"`
}

// Handler serves POST /upload/chunk.
type Handler struct {
	sessions *session.Manager
	blobs    storage.Storage
	bus      workbus.Bus
}

func NewHandler(sessions *session.Manager, blobs storage.Storage, bus workbus.Bus) *Handler {
	return &Handler{sessions: sessions, blobs: blobs, bus: bus}
}

// OwnerFromContext resolves the caller's opaque owner id. Authentication
// itself is out of scope; callers wire their own middleware to
// populate this context key.
type ownerKeyType struct{}

var ownerKey = ownerKeyType{}

func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok
}

type chunkResponse struct {
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
	Status     string `json:"status"`
}

// ServeHTTP authorises the session, validates the chunk index, streams the
// body to a temp blob, and enqueues a CommitChunk message.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		apperror.WriteJSON(w, r, apperror.ErrUnauthorised)
		return
	}

	if err := r.ParseMultipartForm(MaxChunkBytes + 1<<20); err != nil {
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInvalidInput))
		return
	}

	sessionID := r.FormValue("sessionId")
	chunkIndex, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInvalidInput))
		return
	}

	// Step 1: authorise.
	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, err)
		return
	}
	if sess.Owner != owner {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, apperror.ErrForbidden)
		return
	}
	if sess.State == metadatastore.SessionCompleted || sess.State == metadatastore.SessionFailed {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, apperror.ErrConflict)
		return
	}

	// Step 2: validate index.
	if chunkIndex < 0 || chunkIndex >= sess.TotalChunks {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, apperror.Wrap(fmt.Errorf("chunk index %d out of range", chunkIndex), apperror.ErrInvalidInput))
		return
	}

	part, header, err := r.FormFile("chunk")
	if err != nil {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInvalidInput))
		return
	}
	defer part.Close()

	if header.Size > MaxChunkBytes {
		metrics.RecordChunkReceived("error", header.Size)
		apperror.WriteJSON(w, r, apperror.ErrFileTooLarge)
		return
	}

	// Step 3: stream to a temp blob, abort on size overrun.
	tempKey := tempChunkKey()
	limited := io.LimitReader(part, MaxChunkBytes+1)
	counting := &countingReader{r: limited}

	if err := h.blobs.Upload(r.Context(), tempKey, counting, "application/octet-stream", header.Size); err != nil {
		metrics.RecordChunkReceived("error", 0)
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrTransient))
		return
	}
	if counting.n > MaxChunkBytes {
		_ = h.blobs.Delete(r.Context(), tempKey)
		apperror.WriteJSON(w, r, apperror.ErrFileTooLarge)
		return
	}

	// Step 4: enqueue CommitChunk.
	payload := CommitChunkPayload{
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		TempKey:    tempKey,
		Owner:      owner,
	}
	if err := h.bus.Publish(r.Context(), workbus.PipelineChunk, payload); err != nil {
		log.Error("enqueue CommitChunk failed", "session_id", sessionID, "chunk_index", chunkIndex, "error", err)
		_ = h.blobs.Delete(r.Context(), tempKey)
		metrics.RecordChunkReceived("error", counting.n)
		apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrTransient))
		return
	}
	metrics.RecordJobEnqueued(string(workbus.PipelineChunk))
	metrics.RecordChunkReceived("success", counting.n)

	// Step 5: reply 200, commit is asynchronous.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(chunkResponse{SessionID: sessionID, ChunkIndex: chunkIndex, Status: "queued"})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func tempChunkKey() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return session.TempChunkKey(time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}
