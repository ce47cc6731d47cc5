package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegTool implements Prober and Thumbnailer by shelling out to the
// ffprobe and ffmpeg binaries, adapted from the teacher's FFmpegProcessor.
type FFmpegTool struct {
	FFmpegPath  string
	FFprobePath string
}

var _ Prober = (*FFmpegTool)(nil)
var _ Thumbnailer = (*FFmpegTool)(nil)

// NewFFmpegTool resolves ffmpeg/ffprobe on PATH, defaulting to the bare
// binary names, and fails fast if either is missing.
func NewFFmpegTool(ffmpegPath, ffprobePath string) (*FFmpegTool, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	if _, err := exec.LookPath(ffmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	if _, err := exec.LookPath(ffprobePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}

	return &FFmpegTool{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe shells out to ffprobe and parses its JSON report into Metadata.
func (t *FFmpegTool) Probe(ctx context.Context, path string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrProbeFailed, err)
	}

	meta := Metadata{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.DurationSeconds = d
		}
	}
	if probe.Format.Size != "" {
		if s, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
			meta.FileSize = s
		}
	}
	if probe.Format.BitRate != "" {
		if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = b
		}
	}
	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			meta.Codec = stream.CodecName
			meta.Width = stream.Width
			meta.Height = stream.Height
		}
	}

	return meta, nil
}

// Thumbnail captures one frame with ffmpeg, scaled and cropped to the
// canonical thumbnail size, at the timestamp the strategy selects.
func (t *FFmpegTool) Thumbnail(ctx context.Context, path string, duration float64, strategy ThumbnailStrategy, outPath string) error {
	var timestamp float64
	switch strategy {
	case ThumbnailSeekOffset:
		timestamp = SeekOffsetSeconds
		if timestamp > duration {
			timestamp = duration * PercentOfDuration
		}
	default:
		timestamp = duration * PercentOfDuration
	}

	args := []string{
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", path,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", ThumbnailWidth, ThumbnailHeight, ThumbnailWidth, ThumbnailHeight),
		"-q:v", "2",
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v, output: %s", ErrThumbnailFailed, err, strings.TrimSpace(string(output)))
	}
	return nil
}
