// Package postprocess implements the Post-Processing Worker (C9): probes
// the assembled blob, captures a thumbnail, and transitions the video row
// to ready (or failed).
package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/videoingest/videoingest/internal/apperror"
	"github.com/videoingest/videoingest/internal/assembly"
	"github.com/videoingest/videoingest/internal/logger"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/metrics"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/tracing"
	"github.com/videoingest/videoingest/internal/video"
	"github.com/videoingest/videoingest/internal/workbus"
)

// ThumbnailTimeout bounds the optimised (size-based) thumbnail strategy;
// on expiry the worker retries once with the 50% sample strategy.
const ThumbnailTimeout = 60 * time.Second

// Worker consumes ProcessVideo messages off the video_processing pipeline.
type Worker struct {
	bus         workbus.Bus
	store       metadatastore.Store
	blobs       storage.Storage
	prober      video.Prober
	thumbnailer video.Thumbnailer
	tempDir     string
}

func NewWorker(bus workbus.Bus, store metadatastore.Store, blobs storage.Storage, prober video.Prober, thumbnailer video.Thumbnailer) *Worker {
	return &Worker{bus: bus, store: store, blobs: blobs, prober: prober, thumbnailer: thumbnailer}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumer string) error {
	log := logger.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := w.bus.Consume(ctx, workbus.PipelineProcess, consumer, 5*time.Second)
		if err != nil {
			log.Error("postprocess consume failed", "error", err)
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

	var payload assembly.ProcessVideoPayload
	if err := unmarshalPayload(msg, &payload); err != nil {
		log.Error("postprocess: malformed payload, dead-lettering", "error", err)
		_ = w.bus.DeadLetter(ctx, workbus.PipelineProcess, msg)
		metrics.RecordJobProcessed(string(workbus.PipelineProcess), "error", time.Since(start).Seconds())
		return
	}

	ctx, span := tracing.StartJobSpan(ctx, string(workbus.PipelineProcess), payload.VideoID)
	defer span.End()

	err := w.process(ctx, payload)

	status := "success"
	if err != nil {
		status = "error"
		tracing.RecordError(ctx, err)

		if apperror.Is(err, apperror.ErrFatal) {
			log.Error("postprocess: non-retryable failure, dead-lettering", "video_id", payload.VideoID, "error", err)
			_ = w.bus.DeadLetter(ctx, workbus.PipelineProcess, msg)
			metrics.RecordJobDeadLettered(string(workbus.PipelineProcess))
		} else {
			log.Warn("postprocess: transient failure, retrying", "video_id", payload.VideoID, "error", err)
			if nackErr := w.bus.Nack(ctx, workbus.PipelineProcess, msg); nackErr != nil {
				log.Error("postprocess: nack failed", "error", nackErr)
			} else {
				metrics.RecordJobRetried(string(workbus.PipelineProcess))
			}
		}
		metrics.RecordJobProcessed(string(workbus.PipelineProcess), status, time.Since(start).Seconds())
		return
	}

	if ackErr := w.bus.Ack(ctx, workbus.PipelineProcess, msg); ackErr != nil {
		log.Error("postprocess: ack failed", "error", ackErr)
	}
	metrics.RecordJobProcessed(string(workbus.PipelineProcess), status, time.Since(start).Seconds())
}

// process implements the C9 algorithm: download the blob to a local temp
// file, probe it, capture a thumbnail, then update the video row.
func (w *Worker) process(ctx context.Context, payload assembly.ProcessVideoPayload) error {
	log := logger.FromContext(ctx)

	localPath, cleanup, err := w.downloadToTemp(ctx, payload.StorageKey)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}
	defer cleanup()

	meta, probeErr := w.prober.Probe(ctx, localPath)
	if probeErr != nil {
		log.Error("postprocess: probe failed, marking video failed", "video_id", payload.VideoID, "error", probeErr)
		if _, err := w.store.UpdateVideo(ctx, payload.VideoID, func(v *metadatastore.Video) error {
			v.State = metadatastore.VideoFailed
			return nil
		}); err != nil {
			return apperror.Wrap(err, apperror.ErrTransient)
		}
		return nil
	}

	thumbKey := session.ThumbnailKey(payload.VideoID)
	localThumbPath := filepath.Join(filepath.Dir(localPath), "thumbnail.jpg")
	if err := w.captureThumbnail(ctx, localPath, localThumbPath, thumbKey, meta); err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	_, err = w.store.UpdateVideo(ctx, payload.VideoID, func(v *metadatastore.Video) error {
		v.State = metadatastore.VideoReady
		v.DurationS = meta.DurationSeconds
		v.Resolution = meta.Resolution()
		v.Codec = meta.Codec
		v.Bitrate = meta.Bitrate
		if meta.FileSize > 0 {
			v.FileSize = meta.FileSize
		}
		v.ThumbnailKey = thumbKey
		return nil
	})
	if err != nil {
		return apperror.Wrap(err, apperror.ErrTransient)
	}

	w.invalidateCaches(ctx, payload.VideoID)
	return nil
}

// captureThumbnail runs the size-based strategy with a bounded timeout on
// the optimised path; a timeout or failure falls back to the 50% sample.
// localOutPath is a scratch filesystem path for ffmpeg/the fallback to
// write into; storageKey is where the result is uploaded.
func (w *Worker) captureThumbnail(ctx context.Context, localPath, localOutPath, storageKey string, meta video.Metadata) error {
	start := time.Now()
	strategy := video.StrategyFor(meta.FileSize)

	tctx, cancel := context.WithTimeout(ctx, ThumbnailTimeout)
	err := w.thumbnailer.Thumbnail(tctx, localPath, meta.DurationSeconds, strategy, localOutPath)
	cancel()

	if err != nil && strategy != video.ThumbnailPercent {
		logger.FromContext(ctx).Warn("postprocess: optimised thumbnail path failed, falling back to percent sample", "error", err)
		err = w.thumbnailer.Thumbnail(ctx, localPath, meta.DurationSeconds, video.ThumbnailPercent, localOutPath)
	}
	if err != nil {
		return fmt.Errorf("capture thumbnail: %w", err)
	}

	f, openErr := os.Open(localOutPath)
	if openErr != nil {
		return fmt.Errorf("open generated thumbnail: %w", openErr)
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return fmt.Errorf("stat generated thumbnail: %w", statErr)
	}

	if uploadErr := w.blobs.Upload(ctx, storageKey, f, "image/jpeg", info.Size()); uploadErr != nil {
		return fmt.Errorf("upload thumbnail: %w", uploadErr)
	}
	metrics.RecordThumbnail(time.Since(start).Seconds())
	return nil
}

func (w *Worker) downloadToTemp(ctx context.Context, storageKey string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp(w.tempDir, "postprocess-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	reader, err := w.blobs.Download(ctx, storageKey)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", storageKey, err)
	}
	defer reader.Close()

	localPath := filepath.Join(dir, "input")
	file, err := os.Create(localPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create local file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("copy blob to local file: %w", err)
	}

	return localPath, cleanup, nil
}

// invalidateCaches has no cache layer to invalidate in this module (no
// listing/search cache exists outside of C2/C3), so this only logs the
// video id and is otherwise a no-op. See DESIGN.md.
func (w *Worker) invalidateCaches(ctx context.Context, videoID string) {
	logger.FromContext(ctx).Info("postprocess: would invalidate listing/search caches", "video_id", videoID)
}

func unmarshalPayload(msg *workbus.Message, out *assembly.ProcessVideoPayload) error {
	return json.Unmarshal(msg.Envelope.Payload, out)
}
