// Package assembly implements the Assembly Worker (C8): concatenates a
// session's committed chunks, in strict ascending index order, into the
// final blob, then hands the result to post-processing.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/commitworker"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/tracing"
	"github.com/videoingest/videoingest/internal/workbus"
)

// videoIDNamespace is a fixed namespace so a video's id is a deterministic
// function of its originating session id (uuidv5), making create_video
// idempotent across AssembleFile redelivery.
var videoIDNamespace = uuid.MustParse("9b5f2e6a-6c0a-4e77-9e3a-ff9a7d1b9b0e")

func videoIDFor(sessionID string) string {
	return uuid.NewSHA1(videoIDNamespace, []byte(sessionID)).String()
}

// ProcessVideoPayload is the job envelope published onto the
// video_processing pipeline once a file has been assembled.
type ProcessVideoPayload struct {
	VideoID    string `json:"video_id"`
	StorageKey string `json:"storage_key"`
}

// Worker consumes AssembleFile messages off the file_assembly pipeline.
type Worker struct {
	bus      workbus.Bus
	store    metadatastore.Store
	sessions *session.Manager
	blobs    storage.Storage
}

func NewWorker(bus workbus.Bus, store metadatastore.Store, sessions *session.Manager, blobs storage.Storage) *Worker {
	return &Worker{bus: bus, store: store, sessions: sessions, blobs: blobs}
}

// Run consumes until ctx is cancelled. Prefetch is 1: assembly streams a
// whole file per message and gains nothing from overlap.
func (w *Worker) Run(ctx context.Context, consumer string) error {
	log := logger.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := w.bus.Consume(ctx, workbus.PipelineAssembly, consumer, 5*time.Second)
		if err != nil {
			log.Error("assembly consume failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}

		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *workbus.Message) {
	log := logger.FromContext(ctx)
	start := time.Now()

	var payload commitworker.AssembleFilePayload
	if err := unmarshalPayload(msg, &payload); err != nil {
		log.Error("assembly: malformed payload, dead-lettering", "error", err)
		_ = w.bus.DeadLetter(ctx, workbus.PipelineAssembly, msg)
		metrics.RecordJobProcessed(string(workbus.PipelineAssembly), "error", time.Since(start).Seconds())
		return
	}

	ctx, span := tracing.StartJobSpan(ctx, string(workbus.PipelineAssembly), payload.SessionID)
	defer span.End()

	err := w.assemble(ctx, payload)

	status := "success"
	if err != nil {
		status = "error"
		tracing.RecordError(ctx, err)

		if apperror.Is(err, apperror.ErrFatal) {
			log.Error("assembly: non-retryable failure, dead-lettering", "session_id", payload.SessionID, "error", err)
			_ = w.bus.DeadLetter(ctx, workbus.PipelineAssembly, msg)
			metrics.RecordJobDeadLettered(string(workbus.PipelineAssembly))
		} else {
			log.Warn("assembly: transient failure, retrying", "session_id", payload.SessionID, "error", err)
			if nackErr := w.bus.Nack(ctx, workbus.PipelineAssembly, msg); nackErr != nil {
				log.Error("assembly: nack failed", "error", nackErr)
			} else {
				metrics.RecordJobRetried(string(workbus.PipelineAssembly))
			}
		}
		metrics.RecordJobProcessed(string(workbus.PipelineAssembly), status, time.Since(start).Seconds())
		return
	}

	if ackErr := w.bus.Ack(ctx, workbus.PipelineAssembly, msg); ackErr != nil {
		log.Error("assembly: ack failed", "error", ackErr)
	}
	metrics.RecordJobProcessed(string(workbus.PipelineAssembly), status, time.Since(start).Seconds())
	metrics.RecordAssembly(time.Since(start).Seconds())
}

// assemble implements the assembly steps: validate the session is
// complete, stream its chunks into the final blob in ascending order,
// create the video row, fan out ProcessVideo, then delete the session.
func (w *Worker) assemble(ctx context.Context, payload commitworker.AssembleFilePayload) error {
	videoID := videoIDFor(payload.SessionID)

	// The video row's id is a deterministic function of the session id, so
	// existence can be checked without the session row surviving: a
	// redelivery arriving after the session was already deleted (by the
	// first, successful delivery) still finds its video here and just
	// republishes ProcessVideo instead of re-streaming and re-creating it.
	existingVideo, err := w.store.GetVideo(ctx, videoID)
	if err != nil && !apperror.Is(err, apperror.ErrNotFound) {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	if existingVideo != nil {
		return w.republish(ctx, videoID, existingVideo.StorageKey, payload.SessionID)
	}

	sess, err := w.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if apperror.Is(err, apperror.ErrNotFound) {
			// No video and no session: either cancellation raced with this
			// message, or it was already fully processed and cleaned up by
			// a delivery that ran concurrently with this check. Nothing
			// left to do.
			return nil
		}
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	if sess.State != metadatastore.SessionCompleted || sess.ReceivedCount() != sess.TotalChunks {
		return apperror.Wrap(fmt.Errorf("session %s is not complete: state=%s received=%d/%d", sess.ID, sess.State, sess.ReceivedCount(), sess.TotalChunks), apperror.ErrFatal)
	}

	uploadKey := session.UploadKey(sess.TargetFilename)

	if err := w.streamChunks(ctx, sess, uploadKey); err != nil {
		return err
	}

	if err := w.createVideo(ctx, videoID, sess, uploadKey); err != nil {
		return err
	}

	return w.republish(ctx, videoID, uploadKey, sess.ID)
}

// republish fans ProcessVideo back out and deletes the session row if it
// still exists; called both on the happy path and on idempotent redelivery.
func (w *Worker) republish(ctx context.Context, videoID, storageKey, sessionID string) error {
	if err := w.bus.Publish(ctx, workbus.PipelineProcess, ProcessVideoPayload{VideoID: videoID, StorageKey: storageKey}); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	metrics.RecordJobEnqueued(string(workbus.PipelineProcess))

	if err := w.sessions.Delete(ctx, sessionID); err != nil && !apperror.Is(err, apperror.ErrNotFound) {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	return nil
}

// streamChunks concatenates chunks [0, TotalChunks) strictly in ascending
// index order via an io.Pipe, so the upload never buffers the whole file
// in memory, then deletes each chunk once written.
func (w *Worker) streamChunks(ctx context.Context, sess *metadatastore.Session, uploadKey string) error {
	pr, pw := io.Pipe()

	go func() {
		defer func() { _ = pw.Close() }()
		for i := 0; i < sess.TotalChunks; i++ {
			chunkKey := session.ChunkKey(sess.ID, i)
			reader, err := w.blobs.Download(ctx, chunkKey)
			if err != nil {
				_ = pw.CloseWithError(fmt.Errorf("download chunk %d: %w", i, err))
				return
			}
			_, copyErr := io.Copy(pw, reader)
			_ = reader.Close()
			if copyErr != nil {
				_ = pw.CloseWithError(fmt.Errorf("copy chunk %d: %w", i, copyErr))
				return
			}
		}
	}()

	if err := w.blobs.Upload(ctx, uploadKey, pr, "video/mp4", sess.FileSize); err != nil {
		return apperror.Wrap(fmt.Errorf("assemble %s: %w", sess.ID, err), apperror.ErrTransient)
	}

	for i := 0; i < sess.TotalChunks; i++ {
		_ = w.blobs.Delete(ctx, session.ChunkKey(sess.ID, i))
	}
	return nil
}

func (w *Worker) createVideo(ctx context.Context, videoID string, sess *metadatastore.Session, uploadKey string) error {
	title, _ := sess.Metadata["title"].(string)
	if title == "" {
		title = sess.OriginalFilename
	}
	category, _ := sess.Metadata["category"].(string)
	if category == "" {
		category = "general"
	}

	now := time.Now().UTC()
	err := w.store.CreateVideo(ctx, &metadatastore.Video{
		ID:         videoID,
		Owner:      sess.Owner,
		Title:      title,
		Category:   category,
		MimeType:   "video/mp4",
		StorageKey: uploadKey,
		FileSize:   sess.FileSize,
		State:      metadatastore.VideoProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		if apperror.Is(err, apperror.ErrConflict) {
			// A concurrent redelivery already created this deterministic id.
			return nil
		}
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	return nil
}

func unmarshalPayload(msg *workbus.Message, out *commitworker.AssembleFilePayload) error {
	return json.Unmarshal(msg.Envelope.Payload, out)
}
