package recording

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/aibox-vision/aibox/internal/videobuf"
)

const jpegQuality = 85

// clipWriter appends JPEG-encoded frames to a sequence of .mjpeg files,
// rolling over to a numbered successor once a file would exceed the
// configured size limit.
type clipWriter struct {
	dir      string
	baseName string // {sourceId}_{eventType}_{startUnixMs}
	maxBytes int64

	file       *os.File
	part       int
	written    int64
	totalBytes int64
	frameCount int
	firstPath  string
}

func newClipWriter(dir, sourceID, eventType string, start time.Time, maxFileSizeMB int) (*clipWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	w := &clipWriter{
		dir:      dir,
		baseName: fmt.Sprintf("%s_%s_%d", sourceID, eventType, start.UnixMilli()),
		maxBytes: int64(maxFileSizeMB) * 1024 * 1024,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.firstPath = w.file.Name()
	return w, nil
}

func (w *clipWriter) open() error {
	name := w.baseName
	if w.part > 0 {
		name = fmt.Sprintf("%s_part%d", w.baseName, w.part)
	}
	path := filepath.Join(w.dir, name+".mjpeg")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}
	w.file = f
	w.written = 0
	return nil
}

// WriteFrame encodes and appends one frame, rolling over first when the
// current file would exceed the size limit.
func (w *clipWriter) WriteFrame(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if w.maxBytes > 0 && w.written > 0 && w.written+int64(buf.Len()) > w.maxBytes {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close recording file: %w", err)
		}
		w.part++
		if err := w.open(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(buf.Bytes())
	w.written += int64(n)
	w.totalBytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.frameCount++
	return nil
}

// Close flushes and closes the current file.
func (w *clipWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// FirstPath returns the path of the first file in the clip sequence.
func (w *clipWriter) FirstPath() string { return w.firstPath }

// FrameCount returns the number of frames written so far.
func (w *clipWriter) FrameCount() int { return w.frameCount }

// TotalBytes returns the total bytes written across all parts.
func (w *clipWriter) TotalBytes() int64 { return w.totalBytes }

var (
	overlayGreen = color.RGBA{0, 200, 0, 255}
	overlayWhite = color.RGBA{255, 255, 255, 255}
	overlayBlack = color.RGBA{0, 0, 0, 255}
)

// renderFrame clones the buffered frame and draws the configured
// overlays on the clone. The stored frame is never mutated.
func renderFrame(frame videobuf.FrameRecord, timestampOverlay, bboxOverlay bool) *image.RGBA {
	bounds := frame.Image.Bounds()
	clone := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(clone, clone.Bounds(), frame.Image, bounds.Min, draw.Src)

	if bboxOverlay {
		for _, ov := range frame.Overlays {
			drawRect(clone, ov.Bbox.Sub(bounds.Min), overlayGreen)
		}
	}

	if timestampOverlay {
		drawLabel(clone, frame.Timestamp.Format("2006-01-02 15:04:05.000"), 4, clone.Bounds().Dy()-6)
	}

	return clone
}

// drawRect outlines r with 2px edges, clipped to the image.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < 2; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setIfInside(img, x, r.Min.Y+t, c)
			setIfInside(img, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIfInside(img, r.Min.X+t, y, c)
			setIfInside(img, r.Max.X-1-t, y, c)
		}
	}
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel renders text at (x, y baseline) with a dark backing strip
// for legibility.
func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()

	strip := image.Rect(x-2, y-face.Ascent-2, x+width+2, y+face.Descent+2)
	draw.Draw(img, strip.Intersect(img.Bounds()), &image.Uniform{overlayBlack}, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{overlayWhite},
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
