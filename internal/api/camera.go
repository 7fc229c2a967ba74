package api

import (
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/models"
)

const streamBoundary = "frame"

// cameraReady writes 503 and returns false when no frames can be served.
func (s *Server) cameraReady(w http.ResponseWriter) bool {
	if s.cam == nil || s.cam.Mode() == camera.ModeDisabled {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("camera disabled"))
		return false
	}
	return true
}

// cameraFrameHandler handles GET /camera/frame with the latest JPEG.
func (s *Server) cameraFrameHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if !s.cameraReady(w) {
		return
	}
	f, ok := s.cam.Frame()
	if !ok {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("no frame available yet"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(f.Data)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		slog.Debug("Server.cameraFrameHandler: client went away", "error", err)
	}
}

// cameraStreamHandler handles GET /camera/stream as multipart MJPEG. It polls the frame
// source at the stream rate and writes each sequence number at most once.
func (s *Server) cameraStreamHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if !s.cameraReady(w) {
		return
	}

	flusher, _ := w.(http.Flusher)
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	h := w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.streamFPS))
	defer ticker.Stop()

	var lastSeq uint64
	sent := 0
	slog.Debug("Server.cameraStreamHandler: client connected", "remote", r.RemoteAddr)
	for {
		if f, ok := s.cam.Frame(); ok && f.Seq != lastSeq {
			if err := writePart(mw, f); err != nil {
				slog.Debug("Server.cameraStreamHandler: client went away", "error", err, "frames", sent)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			lastSeq = f.Seq
			sent++
		}
		select {
		case <-r.Context().Done():
			slog.Debug("Server.cameraStreamHandler: stream closed", "remote", r.RemoteAddr, "frames", sent)
			return
		case <-ticker.C:
		}
	}
}

func writePart(mw *multipart.Writer, f camera.Frame) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(f.Data))},
	})
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}
