package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":5000"
	// DefaultStreamFPS is how often /camera/stream checks the frame cache.
	DefaultStreamFPS = 15
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 5 * time.Second
)

// Camera is the frame source the camera routes serve from.
type Camera interface {
	Mode() camera.Mode
	Frame() (camera.Frame, bool)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	StreamFPS       int
	ShutdownTimeout time.Duration
	Camera          Camera
	Registry        *behavior.Registry
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address of the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithStreamFPS sets the polling rate of the MJPEG stream.
func WithStreamFPS(fps int) Option {
	return func(o *Opts) {
		o.StreamFPS = fps
	}
}

// WithShutdownTimeout sets how long Run waits for requests to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// WithCamera attaches a frame source. Without one the camera routes answer 503.
func WithCamera(c Camera) Option {
	return func(o *Opts) {
		o.Camera = c
	}
}

// WithRegistry sets the registry listed by /behaviors when no supervisor is available.
func WithRegistry(r *behavior.Registry) Option {
	return func(o *Opts) {
		o.Registry = r
	}
}

// Server serves the PiDogd HTTP API.
type Server struct {
	sup             *behavior.Supervisor // nil when the robot failed to initialize
	cam             Camera
	registry        *behavior.Registry
	addr            string
	streamFPS       int
	shutdownTimeout time.Duration
	mux             *http.ServeMux
}

// NewServer creates a server. sup may be nil, in which case robot routes report
// "robot not initialized".
func NewServer(sup *behavior.Supervisor, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		StreamFPS:       DefaultStreamFPS,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = DefaultStreamFPS
	}

	registry := cfg.Registry
	if sup != nil {
		registry = sup.Registry()
	}
	if registry == nil {
		registry = behavior.DefaultRegistry()
	}

	s := &Server{
		sup:             sup,
		cam:             cfg.Camera,
		registry:        registry,
		addr:            cfg.Addr,
		streamFPS:       cfg.StreamFPS,
		shutdownTimeout: cfg.ShutdownTimeout,
		mux:             http.NewServeMux(),
	}
	s.routes()

	slog.Debug("Server: created", "addr", s.addr, "dog_initialized", sup != nil,
		"camera", cfg.Camera != nil, "stream_fps", s.streamFPS)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/status", s.statusHandler)
	s.mux.HandleFunc("/action", s.actionHandler)
	s.mux.HandleFunc("/move", s.moveHandler)
	s.mux.HandleFunc("/head", s.headHandler)
	s.mux.HandleFunc("/behavior", s.behaviorHandler)
	s.mux.HandleFunc("/behavior/stop", s.behaviorStopHandler)
	s.mux.HandleFunc("/behaviors", s.behaviorsHandler)
	s.mux.HandleFunc("/camera/frame", s.cameraFrameHandler)
	s.mux.HandleFunc("/camera/stream", s.cameraStreamHandler)
}

// Handler returns the routed handler wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// withCORS allows any origin, answering preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run listens on the configured address until ctx is canceled, then shuts down gracefully.
// Open camera streams end when shutdown begins.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		slog.Error("Server.Run: failed to listen", "error", err, "addr", s.addr)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: API server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server.Run: graceful shutdown incomplete, closing connections", "error", err)
		srv.Close()
		return err
	}
	<-errCh
	slog.Info("Server.Run: API server stopped")
	return nil
}
