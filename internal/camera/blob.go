package camera

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PiDogd/internal/behavior"
)

// FrameSource hands out the most recent frame without waiting on the camera.
type FrameSource interface {
	Latest() (Frame, bool)
}

// BlobDetector finds a strongly red blob in the latest frame. It decodes each frame at
// most once and samples the image on a coarse grid.
type BlobDetector struct {
	src      FrameSource
	stride   int
	minHits  int
	mu       sync.Mutex
	lastSeq  uint64
	lastBlob behavior.Blob
}

// NewBlobDetector creates a detector sampling every stride pixels.
func NewBlobDetector(src FrameSource, stride int) *BlobDetector {
	if stride <= 0 {
		stride = 4
	}
	return &BlobDetector{src: src, stride: stride, minHits: 4}
}

// Blob returns the blob in the latest frame, or the zero Blob when there is none.
func (d *BlobDetector) Blob() behavior.Blob {
	f, ok := d.src.Latest()
	if !ok {
		return behavior.Blob{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if f.Seq == d.lastSeq {
		return d.lastBlob
	}
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		slog.Debug("BlobDetector.Blob: undecodable frame", "seq", f.Seq, "error", err)
		d.lastSeq, d.lastBlob = f.Seq, behavior.Blob{}
		return d.lastBlob
	}
	d.lastSeq, d.lastBlob = f.Seq, findRedBlob(img, d.stride, d.minHits)
	return d.lastBlob
}

// isRed reports whether an 8-bit color is dominated by its red channel.
func isRed(r, g, b uint32) bool {
	return r >= 140 && r > g+60 && r > b+60
}

// findRedBlob returns the bounding box of red samples, expressed relative to the frame center.
func findRedBlob(img image.Image, stride, minHits int) behavior.Blob {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return behavior.Blob{}
	}
	minX, minY, maxX, maxY := bounds.Max.X, bounds.Max.Y, bounds.Min.X-1, bounds.Min.Y-1
	hits := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			if !isRed(r>>8, g>>8, b>>8) {
				continue
			}
			hits++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if hits < minHits {
		return behavior.Blob{}
	}
	cx := float64(minX+maxX)/2 - float64(bounds.Min.X)
	cy := float64(minY+maxY)/2 - float64(bounds.Min.Y)
	return behavior.Blob{
		X:     (cx - float64(w)/2) / (float64(w) / 2),
		Y:     (cy - float64(h)/2) / (float64(h) / 2),
		Width: float64(maxX-minX+stride) / float64(w),
	}
}
