// Package commitworker implements the Chunk Commit Worker (C7): renames a
// temp blob to its canonical chunk key, records receipt via the session
// manager, and fans out AssembleFile once a session completes.
package commitworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/intake"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/tracing"
	"github.com/videoingest/videoingest/internal/workbus"
)

// AssembleFilePayload is the job envelope published onto the file_assembly
// pipeline once every chunk of a session has been committed.
type AssembleFilePayload struct {
	SessionID string `json:"session_id"`
	Owner     string `json:"owner"`
}

// Worker consumes CommitChunk messages off the chunk pipeline.
type Worker struct {
	bus      workbus.Bus
	sessions *session.Manager
	blobs    storage.Storage
	sem      *semaphore.Weighted
}

// NewWorker bounds in-flight CommitChunk processing to prefetch messages.
func NewWorker(bus workbus.Bus, sessions *session.Manager, blobs storage.Storage, prefetch int64) *Worker {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Worker{
		bus:      bus,
		sessions: sessions,
		blobs:    blobs,
		sem:      semaphore.NewWeighted(prefetch),
	}
}

// Run consumes until ctx is cancelled, processing each message in its own
// goroutine bounded by the prefetch semaphore.
func (w *Worker) Run(ctx context.Context, consumer string) error {
	log := logger.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		msg, err := w.bus.Consume(ctx, workbus.PipelineChunk, consumer, 5*time.Second)
		if err != nil {
			w.sem.Release(1)
			log.Error("commitworker consume failed", "error", err)
			continue
		}
		if msg == nil {
			w.sem.Release(1)
			continue
		}

		go func(msg *workbus.Message) {
			defer w.sem.Release(1)
			w.handle(ctx, msg)
		}(msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *workbus.Message) {
	log := logger.FromContext(ctx)
	start := time.Now()

	var payload intake.CommitChunkPayload
	if err := json.Unmarshal(msg.Envelope.Payload, &payload); err != nil {
		log.Error("commitworker: malformed payload, dead-lettering", "error", err)
		_ = w.bus.DeadLetter(ctx, workbus.PipelineChunk, msg)
		metrics.RecordJobProcessed(string(workbus.PipelineChunk), "error", time.Since(start).Seconds())
		return
	}

	ctx, span := tracing.StartJobSpan(ctx, string(workbus.PipelineChunk), payload.SessionID)
	defer span.End()

	err := w.commit(ctx, payload)

	status := "success"
	if err != nil {
		status = "error"
		tracing.RecordError(ctx, err)

		if isFatal(err) {
			log.Error("commitworker: fatal error, dead-lettering", "session_id", payload.SessionID, "chunk_index", payload.ChunkIndex, "error", err)
			if dlErr := w.bus.DeadLetter(ctx, workbus.PipelineChunk, msg); dlErr != nil {
				log.Error("commitworker: dead-letter failed", "error", dlErr)
			} else {
				metrics.RecordJobDeadLettered(string(workbus.PipelineChunk))
			}
		} else {
			log.Warn("commitworker: transient error, retrying", "session_id", payload.SessionID, "chunk_index", payload.ChunkIndex, "error", err)
			if nackErr := w.bus.Nack(ctx, workbus.PipelineChunk, msg); nackErr != nil {
				log.Error("commitworker: nack failed", "error", nackErr)
			} else {
				metrics.RecordJobRetried(string(workbus.PipelineChunk))
			}
		}
		metrics.RecordJobProcessed(string(workbus.PipelineChunk), status, time.Since(start).Seconds())
		return
	}

	if ackErr := w.bus.Ack(ctx, workbus.PipelineChunk, msg); ackErr != nil {
		log.Error("commitworker: ack failed", "error", ackErr)
	}
	metrics.RecordJobProcessed(string(workbus.PipelineChunk), status, time.Since(start).Seconds())
}

// isFatal reports whether retrying would never help, so the message should
// skip straight to the DLQ instead of spending its retry budget.
func isFatal(err error) bool {
	return apperror.Is(err, apperror.ErrFatal) || apperror.Is(err, apperror.ErrNotFound)
}

// commit renames the temp blob to its canonical key, records receipt,
// and fans out assembly once the session completes.
func (w *Worker) commit(ctx context.Context, payload intake.CommitChunkPayload) error {
	canonicalKey := session.ChunkKey(payload.SessionID, payload.ChunkIndex)

	// Step 1: rename temp -> canonical, idempotently.
	if err := w.blobs.Rename(ctx, payload.TempKey, canonicalKey); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			exists, existsErr := w.blobs.Exists(ctx, canonicalKey)
			if existsErr != nil {
				return apperror.Wrap(existsErr, apperror.ErrTransient)
			}
			if !exists {
				return apperror.Wrap(fmt.Errorf("neither temp nor canonical chunk blob present for %s/%d", payload.SessionID, payload.ChunkIndex), apperror.ErrFatal)
			}
			// Target already exists from a prior delivery: treat as done.
		} else {
			return apperror.Wrap(err, apperror.ErrTransient)
		}
	}

	// Step 2: record receipt.
	updated, err := w.sessions.RecordChunk(ctx, payload.SessionID, payload.ChunkIndex)
	if err != nil {
		if apperror.Is(err, apperror.ErrNotFound) {
			return apperror.Wrap(err, apperror.ErrFatal)
		}
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	// Step 3: fan out AssembleFile when complete. Redelivery may publish
	// more than one AssembleFile for the same session; C8 is idempotent.
	if updated.State == metadatastore.SessionCompleted {
		if err := w.bus.Publish(ctx, workbus.PipelineAssembly, AssembleFilePayload{
			SessionID: payload.SessionID,
			Owner:     payload.Owner,
		}); err != nil {
			return apperror.Wrap(err, apperror.ErrTransient)
		}
		metrics.RecordJobEnqueued(string(workbus.PipelineAssembly))
	}

	return nil
}
