// Package video adapts ffmpeg/ffprobe into the probe and thumbnail
// operations the Post-Processing Worker (C9) needs, with a pure-Go
// fallback thumbnail for environments without the binaries installed.
package video

import (
	"context"
	"errors"
	"strconv"
)

var (
	ErrFFmpegNotFound  = errors.New("video: ffmpeg not found in PATH")
	ErrFFprobeNotFound = errors.New("video: ffprobe not found in PATH")
	ErrProbeFailed     = errors.New("video: probe failed")
	ErrThumbnailFailed = errors.New("video: thumbnail generation failed")
)

// Metadata is what C9 needs out of a probe to populate a video row.
type Metadata struct {
	DurationSeconds float64
	Width           int
	Height          int
	Codec           string
	Bitrate         int64
	FileSize        int64
}

// Resolution renders Width/Height as the canonical "WxH" string stored on
// the video row.
func (m Metadata) Resolution() string {
	if m.Width == 0 || m.Height == 0 {
		return ""
	}
	return strconv.Itoa(m.Width) + "x" + strconv.Itoa(m.Height)
}

// ThumbnailStrategy selects how the frame is captured, per C9's size-based
// rule: large blobs get a cheap fixed-offset seek, small ones get a
// percentage-of-duration sample for a more representative frame.
type ThumbnailStrategy int

const (
	ThumbnailPercent ThumbnailStrategy = iota
	ThumbnailSeekOffset
)

const (
	// LargeBlobThreshold is the size above which the seek-offset strategy
	// is used instead of percentage sampling.
	LargeBlobThreshold = 1024 * 1024 * 1024
	// SeekOffsetSeconds is the fixed seek position for the large-blob path.
	SeekOffsetSeconds = 30
	// PercentOfDuration is the sample point for the default path.
	PercentOfDuration = 0.5
	// ThumbnailWidth/Height is the canonical output frame size.
	ThumbnailWidth  = 320
	ThumbnailHeight = 240
)

// StrategyFor picks the capture strategy for a blob of the given size.
func StrategyFor(fileSize int64) ThumbnailStrategy {
	if fileSize > LargeBlobThreshold {
		return ThumbnailSeekOffset
	}
	return ThumbnailPercent
}

// Prober extracts Metadata from a local video file.
type Prober interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

// Thumbnailer captures a single representative frame from a local video
// file into a JPEG at outPath, sized to ThumbnailWidth x ThumbnailHeight.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string, duration float64, strategy ThumbnailStrategy, outPath string) error
}
