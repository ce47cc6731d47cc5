package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/videoingest/videoingest/internal/cliout"
	"github.com/videoingest/videoingest/internal/video"
)

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Inspect stored video blobs",
}

var videoProbeCmd = &cobra.Command{
	Use:   "probe <storage-key>",
	Short: "Download a blob and run ffprobe against it",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideoProbe,
}

func init() {
	videoCmd.AddCommand(videoProbeCmd)
}

func runVideoProbe(cmd *cobra.Command, args []string) error {
	storageKey := args[0]

	localPath, cleanup, err := downloadToTemp(storageKey)
	if err != nil {
		return fmt.Errorf("download %s: %w", storageKey, err)
	}
	defer cleanup()

	prober, err := video.NewFFmpegTool("ffmpeg", "ffprobe")
	if err != nil {
		return fmt.Errorf("initialise ffprobe: %w", err)
	}

	meta, err := prober.Probe(ctx(), localPath)
	if err != nil {
		return fmt.Errorf("probe %s: %w", storageKey, err)
	}

	if printer.IsJSON() {
		return printer.JSON(meta)
	}

	printer.Section("Probe Result")
	printer.KeyValue("Storage Key", storageKey)
	printer.KeyValue("Duration", fmt.Sprintf("%.2fs", meta.DurationSeconds))
	printer.KeyValue("Resolution", meta.Resolution())
	printer.KeyValue("Codec", meta.Codec)
	printer.KeyValue("Bitrate", fmt.Sprintf("%d bps", meta.Bitrate))
	printer.KeyValue("File Size", cliout.FormatBytes(meta.FileSize))
	return nil
}

func downloadToTemp(storageKey string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "videoctl-probe-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	reader, err := deps.blobs.Download(ctx(), storageKey)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer reader.Close()

	localPath := dir + "/blob"
	file, err := os.Create(localPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create local file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write local file: %w", err)
	}

	return localPath, cleanup, nil
}
