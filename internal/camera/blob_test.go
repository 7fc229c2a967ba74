package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"
)

type stubFrames struct {
	frame Frame
	ok    bool
}

func (s *stubFrames) Latest() (Frame, bool) { return s.frame, s.ok }

// encodeScene draws a red square of size side at (x, y) on a gray 160x120 image.
func encodeScene(t *testing.T, x, y, side int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for py := 0; py < 120; py++ {
		for px := 0; px < 160; px++ {
			c := color.RGBA{R: 90, G: 90, B: 90, A: 255}
			if px >= x && px < x+side && py >= y && py < y+side {
				c = color.RGBA{R: 230, G: 20, B: 20, A: 255}
			}
			img.Set(px, py, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestBlobDetector(t *testing.T) {
	src := &stubFrames{}
	d := NewBlobDetector(src, 2)

	if b := d.Blob(); b.Width != 0 {
		t.Errorf("no frame should mean no blob, got %+v", b)
	}

	// Square centered at (120, 60): right of center, vertically centered.
	src.frame, src.ok = Frame{Seq: 1, Data: encodeScene(t, 100, 40, 40)}, true
	b := d.Blob()
	if b.Width < 0.2 || b.Width > 0.3 {
		t.Errorf("width = %v, want about 0.25", b.Width)
	}
	if math.Abs(b.X-0.5) > 0.1 || math.Abs(b.Y) > 0.1 {
		t.Errorf("center = (%v, %v), want about (0.5, 0)", b.X, b.Y)
	}

	src.frame = Frame{Seq: 2, Data: encodeScene(t, 0, 0, 0)}
	if b := d.Blob(); b.Width != 0 {
		t.Errorf("gray frame should have no blob, got %+v", b)
	}

	src.frame = Frame{Seq: 3, Data: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}}
	if b := d.Blob(); b.Width != 0 {
		t.Errorf("corrupt frame should have no blob, got %+v", b)
	}
}

func TestBlobDetectorCachesBySequence(t *testing.T) {
	src := &stubFrames{frame: Frame{Seq: 7, Data: encodeScene(t, 10, 10, 30)}, ok: true}
	d := NewBlobDetector(src, 0)
	first := d.Blob()
	if first.X >= 0 {
		t.Fatalf("expected a blob left of center, got %+v", first)
	}

	// Same sequence with different bytes: the cached result is reused.
	src.frame.Data = encodeScene(t, 120, 80, 30)
	if got := d.Blob(); got != first {
		t.Errorf("expected cached blob %+v, got %+v", first, got)
	}
}
