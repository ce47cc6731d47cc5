package video

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// PlaceholderThumbnailer draws a filled rectangle with a centered label in
// place of a captured frame. It needs no ffmpeg binary; FallbackThumbnailer
// uses it when the primary thumbnailer fails.
type PlaceholderThumbnailer struct{}

var _ Thumbnailer = PlaceholderThumbnailer{}

func (PlaceholderThumbnailer) Thumbnail(ctx context.Context, path string, duration float64, strategy ThumbnailStrategy, outPath string) error {
	dc := gg.NewContext(ThumbnailWidth, ThumbnailHeight)
	dc.SetRGB(0.15, 0.15, 0.18)
	dc.Clear()
	dc.SetRGB(0.85, 0.85, 0.85)
	if err := dc.LoadFontFace("/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf", 18); err != nil {
		_ = dc.LoadFontFace("/System/Library/Fonts/Helvetica.ttc", 18)
	}
	dc.DrawStringAnchored("no preview available", ThumbnailWidth/2, ThumbnailHeight/2, 0.5, 0.5)

	img := imaging.Clone(dc.Image())

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("%w: create placeholder: %v", ErrThumbnailFailed, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("%w: encode placeholder: %v", ErrThumbnailFailed, err)
	}
	return nil
}

// FallbackThumbnailer wraps a primary Thumbnailer, falling back to the
// placeholder on any failure so C9 always produces a thumbnail_key.
type FallbackThumbnailer struct {
	Primary  Thumbnailer
	fallback PlaceholderThumbnailer
}

func NewFallbackThumbnailer(primary Thumbnailer) *FallbackThumbnailer {
	return &FallbackThumbnailer{Primary: primary}
}

func (t *FallbackThumbnailer) Thumbnail(ctx context.Context, path string, duration float64, strategy ThumbnailStrategy, outPath string) error {
	if t.Primary != nil {
		if err := t.Primary.Thumbnail(ctx, path, duration, strategy, outPath); err == nil {
			return nil
		}
	}
	return t.fallback.Thumbnail(ctx, path, duration, strategy, outPath)
}
