package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
	"github.com/google/uuid"
)

// DefaultStopTimeout bounds how long Stop waits for a behavior to observe cancellation.
const DefaultStopTimeout = 2 * time.Second

var (
	// ErrNotSupported is returned by Start for names the registry does not know.
	ErrNotSupported = errors.New("behavior not supported")
	// ErrBusy is returned by Direct while a behavior owns the robot.
	ErrBusy = errors.New("robot is busy running a behavior")
)

// Status is a snapshot of the supervisor.
type Status struct {
	Running   bool       `json:"running"`
	Behavior  string     `json:"behavior,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Opts holds configuration options for the Supervisor.
type Opts struct {
	StopTimeout time.Duration
	Tuning      *Tuning
	Vision      BlobSource
	Registry    *Registry
	Now         func() time.Time
}

// Option defines a configuration option for the Supervisor.
type Option func(*Opts)

// WithStopTimeout sets the grace period Stop grants a behavior.
func WithStopTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.StopTimeout = d
	}
}

// WithTuning overrides the behavior thresholds.
func WithTuning(t Tuning) Option {
	return func(o *Opts) {
		o.Tuning = &t
	}
}

// WithVision supplies the blob source used by ball tracking.
func WithVision(v BlobSource) Option {
	return func(o *Opts) {
		o.Vision = v
	}
}

// WithRegistry replaces the built-in behavior registry.
func WithRegistry(r *Registry) Option {
	return func(o *Opts) {
		o.Registry = r
	}
}

// WithClock sets the clock behaviors use for deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

type run struct {
	entry     Entry
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// mu guards abandoned. A run abandoned by Stop no longer owns the robot.
	mu        sync.Mutex
	abandoned bool
}

// abandon marks r as no longer owning the robot. It waits out a safe pose the worker is
// applying so the two never interleave.
func (r *run) abandon() {
	r.mu.Lock()
	r.abandoned = true
	r.mu.Unlock()
}

// owned runs fn unless r was abandoned, and reports whether it did.
func (r *run) owned(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	fn()
	return true
}

// Supervisor owns the robot handle and runs at most one behavior at a time.
type Supervisor struct {
	dog         robot.Handle
	registry    *Registry
	env         Env
	stopTimeout time.Duration

	// mu serializes Start, Stop and Direct.
	mu     sync.Mutex
	active atomic.Pointer[run]
}

// NewSupervisor creates a supervisor for dog.
func NewSupervisor(dog robot.Handle, opts ...Option) *Supervisor {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	tuning := DefaultTuning()
	if cfg.Tuning != nil {
		tuning = *cfg.Tuning
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("Supervisor options set", "stop_timeout", cfg.StopTimeout, "vision_set", cfg.Vision != nil, "behaviors", len(cfg.Registry.entries))

	return &Supervisor{
		dog:         dog,
		registry:    cfg.Registry,
		stopTimeout: cfg.StopTimeout,
		env: Env{
			Dog:    dog,
			Vision: cfg.Vision,
			Tuning: tuning,
			Now:    cfg.Now,
		},
	}
}

// Registry returns the behaviors this supervisor can start.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Start stops any running behavior, then launches the one matching name.
func (s *Supervisor) Start(name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() != nil {
		slog.Info("Supervisor.Start: stopping running behavior first", "requested", name)
		s.stopLocked()
	}

	entry, ok := s.registry.Lookup(name)
	if !ok {
		slog.Warn("Supervisor.Start: behavior not supported", "requested", name)
		return s.Status(), fmt.Errorf("%w: %q", ErrNotSupported, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		entry:     entry,
		id:        uuid.NewString(),
		startedAt: s.env.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.active.Store(r)
	go s.work(ctx, r)

	slog.Info("Supervisor.Start: behavior started", "behavior", entry.Name, "run_id", r.id, "requested", name)
	return s.Status(), nil
}

// Stop cancels the running behavior, if any, and puts the robot in its safe pose.
// It is safe to call at any time.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Close stops the supervisor at shutdown.
func (s *Supervisor) Close() {
	slog.Debug("Supervisor.Close: shutting down")
	s.Stop()
}

func (s *Supervisor) stopLocked() {
	if r := s.active.Load(); r != nil {
		slog.Debug("Supervisor.stop: canceling behavior", "behavior", r.entry.Name, "run_id", r.id)
		r.cancel()
		select {
		case <-r.done:
			slog.Info("Supervisor.stop: behavior stopped", "behavior", r.entry.Name, "run_id", r.id)
		case <-time.After(s.stopTimeout):
			slog.Warn("Supervisor.stop: behavior exceeded stop grace period, proceeding",
				"behavior", r.entry.Name, "run_id", r.id, "timeout", s.stopTimeout)
			r.abandon()
		}
		s.active.CompareAndSwap(r, nil)
	}
	s.safePose()
}

// safePose halts all motion and centers the head.
func (s *Supervisor) safePose() {
	if err := s.dog.BodyStop(); err != nil {
		slog.Error("Supervisor.safePose: body stop failed", "error", err)
	}
	if err := s.dog.HeadMove(robot.NeutralHead, robot.DefaultHeadSpeed, true); err != nil {
		slog.Error("Supervisor.safePose: head reset failed", "error", err)
	}
}

// IsRunning reports whether a behavior currently owns the robot. It never blocks.
func (s *Supervisor) IsRunning() bool {
	return s.active.Load() != nil
}

// Status returns a snapshot of the running behavior. It never blocks.
func (s *Supervisor) Status() Status {
	r := s.active.Load()
	if r == nil {
		return Status{}
	}
	started := r.startedAt
	return Status{
		Running:   true,
		Behavior:  r.entry.Name,
		RunID:     r.id,
		StartedAt: &started,
	}
}

// Direct runs a direct-control command against the robot unless a behavior owns it.
func (s *Supervisor) Direct(cmd func(robot.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.active.Load(); r != nil {
		slog.Warn("Supervisor.Direct: rejected, behavior running", "behavior", r.entry.Name, "run_id", r.id)
		return ErrBusy
	}
	return cmd(s.dog)
}

func (s *Supervisor) work(ctx context.Context, r *run) {
	defer close(r.done)
	defer s.active.CompareAndSwap(r, nil)

	err := s.invoke(ctx, r)
	switch {
	case err != nil:
		slog.Error("Supervisor.work: behavior failed", "behavior", r.entry.Name, "run_id", r.id, "error", err)
		if !r.owned(s.safePose) {
			slog.Warn("Supervisor.work: run was abandoned, leaving the robot to its new owner",
				"behavior", r.entry.Name, "run_id", r.id)
		}
	case ctx.Err() != nil:
		slog.Debug("Supervisor.work: behavior observed cancellation", "behavior", r.entry.Name, "run_id", r.id)
	default:
		slog.Info("Supervisor.work: behavior finished", "behavior", r.entry.Name, "run_id", r.id,
			"duration", s.env.now().Sub(r.startedAt))
	}
}

// invoke runs the behavior, turning a panic into an error.
func (s *Supervisor) invoke(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("behavior %s panicked: %v\n%s", r.entry.Name, p, debug.Stack())
		}
	}()
	return r.entry.Run(ctx, s.env)
}
