// Package camera provides the latest camera frame to any number of readers.
//
// A Source picks one backend the first time a frame is requested: a still-capture device,
// else the first streaming command that stays alive, else nothing. Streaming commands emit
// MJPEG on stdout; a single reader goroutine splits the byte stream into JPEG frames and
// publishes each one into a FrameCache.
package camera

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	// ChunkSize is the read size used on the stream's stdout.
	ChunkSize = 4096
	// MaxFrameSize bounds a pending frame; a frame that grows past it without an end marker is dropped.
	MaxFrameSize = 8 << 20
)

var (
	startMarker = []byte{0xFF, 0xD8}
	endMarker   = []byte{0xFF, 0xD9}
)

// Frame is one complete JPEG image.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// extractor splits an MJPEG byte stream into JPEG frames. It is not safe for concurrent use.
type extractor struct {
	buf      []byte
	maxFrame int
	dropped  int
}

func newExtractor(maxFrame int) *extractor {
	if maxFrame <= 0 {
		maxFrame = MaxFrameSize
	}
	return &extractor{maxFrame: maxFrame}
}

// feed appends p and calls emit with a private copy of every complete frame found.
func (e *extractor) feed(p []byte, emit func([]byte)) {
	e.buf = append(e.buf, p...)
	for {
		start := bytes.Index(e.buf, startMarker)
		if start < 0 {
			// A trailing 0xFF may be the first half of a start marker.
			if n := len(e.buf); n > 0 && e.buf[n-1] == 0xFF {
				e.buf[0] = 0xFF
				e.buf = e.buf[:1]
			} else {
				e.buf = e.buf[:0]
			}
			return
		}
		if start > 0 {
			e.buf = e.buf[:copy(e.buf, e.buf[start:])]
		}

		end := bytes.Index(e.buf[len(startMarker):], endMarker)
		if end < 0 {
			if len(e.buf) > e.maxFrame {
				e.dropped++
				slog.Warn("camera.extractor: dropping oversized frame", "pending_bytes", len(e.buf), "max", e.maxFrame)
				e.buf = e.buf[:0]
			}
			return
		}
		size := len(startMarker) + end + len(endMarker)
		emit(bytes.Clone(e.buf[:size]))
		e.buf = e.buf[:copy(e.buf, e.buf[size:])]
	}
}

// pending reports how many bytes are buffered waiting for more data.
func (e *extractor) pending() int {
	return len(e.buf)
}

// readFrames reads r in ChunkSize chunks and publishes every extracted frame into cache
// until EOF or a read error. EOF is not an error.
func readFrames(r io.Reader, cache *FrameCache, maxFrame int) error {
	ex := newExtractor(maxFrame)
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			ex.feed(chunk[:n], func(data []byte) { cache.Publish(data) })
		}
		if err != nil {
			// Stopping the stream closes the pipe under a blocked read.
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
