package postprocess

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoingest/videoingest/internal/assembly"
	"github.com/videoingest/videoingest/internal/metadatastore"
	"github.com/videoingest/videoingest/internal/session"
	"github.com/videoingest/videoingest/internal/storage"
	"github.com/videoingest/videoingest/internal/video"
	"github.com/videoingest/videoingest/internal/workbus"
)

type fakeProber struct {
	meta video.Metadata
	err  error
}

func (f fakeProber) Probe(ctx context.Context, path string) (video.Metadata, error) {
	return f.meta, f.err
}

// fakeThumbnailer fails for every strategy in failFor, succeeding otherwise
// by writing a tiny placeholder file to outPath.
type fakeThumbnailer struct {
	failFor map[video.ThumbnailStrategy]bool
	calls   []video.ThumbnailStrategy
}

func (f *fakeThumbnailer) Thumbnail(ctx context.Context, path string, duration float64, strategy video.ThumbnailStrategy, outPath string) error {
	f.calls = append(f.calls, strategy)
	if f.failFor[strategy] {
		return video.ErrThumbnailFailed
	}
	return os.WriteFile(outPath, []byte("jpeg-bytes"), 0o644)
}

func newTestWorker(t *testing.T, prober video.Prober, thumbnailer video.Thumbnailer) (*Worker, metadatastore.Store, storage.Storage, *workbus.MemoryBus) {
	t.Helper()
	store := metadatastore.NewMemoryStore()
	blobs := storage.NewMemoryStorage()
	bus := workbus.NewMemoryBus()
	return NewWorker(bus, store, blobs, prober, thumbnailer), store, blobs, bus
}

func seedVideo(t *testing.T, ctx context.Context, store metadatastore.Store, blobs storage.Storage, videoID, storageKey string, content []byte) {
	t.Helper()
	require.NoError(t, blobs.Upload(ctx, storageKey, bytes.NewReader(content), "video/mp4", int64(len(content))))
	require.NoError(t, store.CreateVideo(ctx, &metadatastore.Video{
		ID:         videoID,
		Owner:      "owner-1",
		Title:      "movie.mp4",
		StorageKey: storageKey,
		State:      metadatastore.VideoProcessing,
		CreatedAt:  time.Unix(0, 0).UTC(),
		UpdatedAt:  time.Unix(0, 0).UTC(),
	}))
}

func TestProcessUpdatesVideoToReadyOnSuccess(t *testing.T) {
	prober := fakeProber{meta: video.Metadata{DurationSeconds: 12.5, Width: 1920, Height: 1080, Codec: "h264", Bitrate: 4000, FileSize: 9}}
	thumbnailer := &fakeThumbnailer{failFor: map[video.ThumbnailStrategy]bool{}}
	w, store, _, _ := newTestWorker(t, prober, thumbnailer)
	ctx := context.Background()

	seedVideo(t, ctx, store, w.blobs, "video-1", "uploads/movie.mp4", []byte("content!!"))

	err := w.process(ctx, assembly.ProcessVideoPayload{VideoID: "video-1", StorageKey: "uploads/movie.mp4"})
	require.NoError(t, err)

	v, err := store.GetVideo(ctx, "video-1")
	require.NoError(t, err)
	assert.Equal(t, metadatastore.VideoReady, v.State)
	assert.Equal(t, 12.5, v.DurationS)
	assert.Equal(t, "1920x1080", v.Resolution)
	assert.Equal(t, "h264", v.Codec)
	assert.Equal(t, session.ThumbnailKey("video-1"), v.ThumbnailKey)

	exists, err := w.blobs.Exists(ctx, v.ThumbnailKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessMarksVideoFailedOnProbeError(t *testing.T) {
	prober := fakeProber{err: video.ErrProbeFailed}
	thumbnailer := &fakeThumbnailer{}
	w, store, _, _ := newTestWorker(t, prober, thumbnailer)
	ctx := context.Background()

	seedVideo(t, ctx, store, w.blobs, "video-2", "uploads/broken.mp4", []byte("junk"))

	err := w.process(ctx, assembly.ProcessVideoPayload{VideoID: "video-2", StorageKey: "uploads/broken.mp4"})
	require.NoError(t, err, "probe failure is terminal, not retried")

	v, err := store.GetVideo(ctx, "video-2")
	require.NoError(t, err)
	assert.Equal(t, metadatastore.VideoFailed, v.State)
}

func TestProcessFallsBackToPercentStrategyOnOptimisedFailure(t *testing.T) {
	prober := fakeProber{meta: video.Metadata{DurationSeconds: 40, FileSize: video.LargeBlobThreshold + 1}}
	thumbnailer := &fakeThumbnailer{failFor: map[video.ThumbnailStrategy]bool{video.ThumbnailSeekOffset: true}}
	w, store, _, _ := newTestWorker(t, prober, thumbnailer)
	ctx := context.Background()

	seedVideo(t, ctx, store, w.blobs, "video-3", "uploads/large.mp4", []byte("large-file-stand-in"))

	err := w.process(ctx, assembly.ProcessVideoPayload{VideoID: "video-3", StorageKey: "uploads/large.mp4"})
	require.NoError(t, err)

	require.Len(t, thumbnailer.calls, 2)
	assert.Equal(t, video.ThumbnailSeekOffset, thumbnailer.calls[0])
	assert.Equal(t, video.ThumbnailPercent, thumbnailer.calls[1])

	v, err := store.GetVideo(ctx, "video-3")
	require.NoError(t, err)
	assert.Equal(t, metadatastore.VideoReady, v.State)
}

func TestHandleDeadLettersMalformedPayload(t *testing.T) {
	w, _, _, bus := newTestWorker(t, fakeProber{}, &fakeThumbnailer{})
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, workbus.PipelineProcess, assembly.ProcessVideoPayload{VideoID: "v", StorageKey: "k"}))
	msg, err := bus.Consume(ctx, workbus.PipelineProcess, "c1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	msg.Envelope.Payload = []byte(`{not-json`)

	w.handle(ctx, msg)

	depth, err := bus.QueueDepth(ctx, workbus.PipelineProcess, "dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}
