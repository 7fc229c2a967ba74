package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultLiveness is how long a stream command must survive to be accepted.
const DefaultLiveness = 500 * time.Millisecond

// ErrNoCandidate is returned when no streaming command stayed alive.
var ErrNoCandidate = errors.New("no camera stream candidate available")

var errSourceClosed = errors.New("camera source closed")

// stillKey names the single in-flight still capture shared by all callers.
const stillKey = "still"

// Opts holds configuration options for the Source.
type Opts struct {
	Still        StillOpener
	Candidates   []Command
	Liveness     time.Duration
	MaxFrameSize int
	Disabled     bool
}

// Option defines a configuration option for the Source.
type Option func(*Opts)

// WithStill sets the still-capture device tried before any stream.
func WithStill(open StillOpener) Option {
	return func(o *Opts) {
		o.Still = open
	}
}

// WithCandidates replaces the streaming commands, tried in order.
func WithCandidates(cmds ...Command) Option {
	return func(o *Opts) {
		o.Candidates = cmds
	}
}

// WithLiveness sets how long a stream command must run before it is accepted.
func WithLiveness(d time.Duration) Option {
	return func(o *Opts) {
		o.Liveness = d
	}
}

// WithMaxFrameSize bounds the size of a single frame.
func WithMaxFrameSize(n int) Option {
	return func(o *Opts) {
		o.MaxFrameSize = n
	}
}

// WithDisabled turns the camera off; every frame request reports absence.
func WithDisabled() Option {
	return func(o *Opts) {
		o.Disabled = true
	}
}

// Source serves the latest camera frame. The backend is chosen once, on first use, and
// never changes afterwards.
type Source struct {
	opts      Opts
	once      sync.Once
	mode      Mode
	selected  atomic.Bool
	selecting atomic.Bool
	cache     *FrameCache

	flight  singleflight.Group
	stillMu sync.Mutex
	still   StillDevice
	stream  *stream

	closeOnce sync.Once
}

// NewSource creates a frame source. Nothing is started until the first Frame call.
func NewSource(opts ...Option) *Source {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Liveness <= 0 {
		cfg.Liveness = DefaultLiveness
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = MaxFrameSize
	}
	slog.Debug("camera.Source options set", "still_set", cfg.Still != nil, "candidates", len(cfg.Candidates),
		"liveness", cfg.Liveness, "disabled", cfg.Disabled)
	return &Source{opts: cfg, cache: NewFrameCache()}
}

// selectBackend tries the still device, then each stream candidate, then gives up.
func (s *Source) selectBackend() {
	if s.opts.Disabled {
		s.mode = ModeDisabled
		slog.Info("camera.Source: camera disabled by configuration")
		return
	}
	if s.opts.Still != nil {
		dev, err := s.opts.Still()
		if err == nil {
			s.still = dev
			s.mode = ModeStill
			slog.Info("camera.Source: using still capture")
			return
		}
		slog.Info("camera.Source: still capture unavailable", "error", err)
	}
	st, err := s.startFirstStream()
	if err == nil {
		s.stream = st
		s.mode = ModeStream
		return
	}
	slog.Warn("camera.Source: camera disabled", "error", err)
	s.mode = ModeDisabled
}

func (s *Source) startFirstStream() (*stream, error) {
	for _, c := range s.opts.Candidates {
		st, err := startStream(c, s.opts.Liveness, s.cache, s.opts.MaxFrameSize)
		if err != nil {
			slog.Info("camera.Source: stream candidate rejected", "command", c.Name, "error", err)
			continue
		}
		return st, nil
	}
	return nil, fmt.Errorf("%w (tried %d)", ErrNoCandidate, len(s.opts.Candidates))
}

// Mode returns the selected backend, selecting it if that has not happened yet.
func (s *Source) Mode() Mode {
	s.once.Do(func() {
		s.selectBackend()
		s.selected.Store(true)
	})
	return s.mode
}

// Frame returns the latest frame. In still mode it captures a new one; in stream mode it
// returns the last published frame, and false before the first. Disabled always reports false.
func (s *Source) Frame() (Frame, bool) {
	switch s.Mode() {
	case ModeStill:
		return s.capture()
	case ModeStream:
		return s.cache.Latest()
	default:
		return Frame{}, false
	}
}

// Latest returns the newest published frame and never waits on the camera. In still mode
// it starts a background capture when none is running, so a poller sees fresh frames one
// capture behind. Before the backend is chosen it starts the selection and reports false.
func (s *Source) Latest() (Frame, bool) {
	if !s.selected.Load() {
		if s.selecting.CompareAndSwap(false, true) {
			go s.Mode()
		}
		return Frame{}, false
	}
	switch s.mode {
	case ModeStill:
		s.flight.DoChan(stillKey, s.captureStill)
		return s.cache.Latest()
	case ModeStream:
		return s.cache.Latest()
	default:
		return Frame{}, false
	}
}

// capture joins the capture in flight, or starts one. Callers arriving while a capture
// runs share its frame instead of queueing for their own.
func (s *Source) capture() (Frame, bool) {
	v, err, _ := s.flight.Do(stillKey, s.captureStill)
	if err != nil {
		return Frame{}, false
	}
	return v.(Frame), true
}

func (s *Source) captureStill() (interface{}, error) {
	s.stillMu.Lock()
	defer s.stillMu.Unlock()
	if s.still == nil {
		return nil, errSourceClosed
	}
	data, err := s.still.Capture()
	if err != nil {
		slog.Warn("camera.Source: still capture failed", "error", err)
		return nil, err
	}
	return s.cache.Publish(data), nil
}

// Close stops the stream process or releases the still device. A source closed before its
// first use stays disabled.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.once.Do(func() {
			s.mode = ModeDisabled
			s.selected.Store(true)
		})
		if s.stream != nil {
			s.stream.stop()
		}
		s.stillMu.Lock()
		if s.still != nil {
			err = s.still.Close()
			s.still = nil
		}
		s.stillMu.Unlock()
		slog.Debug("camera.Source: closed", "mode", s.mode)
	})
	return err
}
