// Package behavior implements the autonomous routines of the robot and the Supervisor that runs them.
//
// A behavior is a function that owns the robot handle until its context is canceled or it
// returns. Every blocking step goes through a script, which checks cancellation before each
// command and after each wait, so the Supervisor can reclaim the robot within one tick.
package behavior

import (
	"context"
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

// Tick is the default polling interval of sensor loops.
const Tick = 50 * time.Millisecond

// legsPollInterval is how often a script re-checks the leg queue while waiting for it to drain.
const legsPollInterval = 10 * time.Millisecond

// Behavior runs one autonomous routine. It returns nil when canceled or when a finite
// choreography completes, and an error when the robot rejected a command.
type Behavior func(ctx context.Context, env Env) error

// Blob is a color blob seen by the camera, in coordinates relative to the frame center.
type Blob struct {
	X     float64 // -1 (left edge) .. 1 (right edge)
	Y     float64 // -1 (top edge) .. 1 (bottom edge)
	Width float64 // fraction of the frame width; 0 means no blob
}

// BlobSource provides the most recent blob detection.
type BlobSource interface {
	Blob() Blob
}

// Env is what a behavior gets to work with.
type Env struct {
	Dog    robot.Handle
	Vision BlobSource // may be nil; ball tracking then sees no blob
	Tuning Tuning
	Now    func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Env) blob() Blob {
	if e.Vision == nil {
		return Blob{}
	}
	return e.Vision.Blob()
}

// Tuning holds the thresholds and cadences of the behaviors.
type Tuning struct {
	Tick time.Duration `yaml:"tick"`

	DangerDistance   float64 `yaml:"danger_distance"`
	ResponseDistance float64 `yaml:"response_distance"`
	PlayDistance     float64 `yaml:"play_distance"`
	HeadQueueCap     int     `yaml:"head_queue_cap"`

	TrackStep     float64 `yaml:"track_step"`
	TrackDeadband float64 `yaml:"track_deadband"`
	YawLimit      float64 `yaml:"yaw_limit"`
	PitchMin      float64 `yaml:"pitch_min"`
	PitchMax      float64 `yaml:"pitch_max"`
	TurnYaw       float64 `yaml:"turn_yaw"`
	CloseWidth    float64 `yaml:"close_width"`

	BalanceInterval  time.Duration `yaml:"balance_interval"`
	BalanceGain      float64       `yaml:"balance_gain"`
	BalanceMaxOffset float64       `yaml:"balance_max_offset"`

	LiftThreshold     float64       `yaml:"lift_threshold"`
	DropThreshold     float64       `yaml:"drop_threshold"`
	InteractionWindow time.Duration `yaml:"interaction_window"`
	SoundCooldown     time.Duration `yaml:"sound_cooldown"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	DozeInterval      time.Duration `yaml:"doze_interval"`
}

// DefaultTuning returns the thresholds used on a stock PiDog.
func DefaultTuning() Tuning {
	return Tuning{
		Tick: Tick,

		DangerDistance:   15,
		ResponseDistance: 20,
		PlayDistance:     15,
		HeadQueueCap:     2,

		TrackStep:     1.5,
		TrackDeadband: 0.15,
		YawLimit:      80,
		PitchMin:      -35,
		PitchMax:      25,
		TurnYaw:       30,
		CloseWidth:    0.35,

		BalanceInterval:  50 * time.Millisecond,
		BalanceGain:      25,
		BalanceMaxOffset: 20,

		LiftThreshold:     -1.5,
		DropThreshold:     -1.2,
		InteractionWindow: 3 * time.Second,
		SoundCooldown:     2 * time.Second,
		IdleTimeout:       60 * time.Second,
		DozeInterval:      200 * time.Millisecond,
	}
}

// Sleep waits for d and reports whether the full duration elapsed.
// It returns false as soon as ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return ctx.Err() == nil
	}
}

// script issues robot commands with a sticky error: once a command fails or ctx is
// canceled, every later call is a no-op returning false.
type script struct {
	ctx context.Context
	dog robot.Handle
	err error
}

func newScript(ctx context.Context, dog robot.Handle) *script {
	return &script{ctx: ctx, dog: dog}
}

func (s *script) ok() bool {
	return s.err == nil && s.ctx.Err() == nil
}

func (s *script) run(cmd func() error) bool {
	if !s.ok() {
		return false
	}
	if err := cmd(); err != nil {
		s.err = err
		return false
	}
	return true
}

func (s *script) action(name string, steps, speed int) bool {
	return s.run(func() error { return s.dog.DoAction(name, steps, speed) })
}

func (s *script) legs(frames [][]float64, speed int) bool {
	return s.run(func() error { return s.dog.LegsMove(frames, speed) })
}

func (s *script) head(pose robot.HeadPose, speed int, immediate bool) bool {
	return s.run(func() error { return s.dog.HeadMove(pose, speed, immediate) })
}

func (s *script) tail(angle float64, speed int) bool {
	return s.run(func() error { return s.dog.TailMove(angle, speed) })
}

func (s *script) rgb(mode robot.RGBMode) bool {
	return s.run(func() error { return s.dog.SetRGB(mode) })
}

func (s *script) speak(sound string) bool {
	return s.run(func() error { return s.dog.Speak(sound, robot.DefaultVolume) })
}

func (s *script) stop() bool {
	return s.run(s.dog.BodyStop)
}

func (s *script) wait(d time.Duration) bool {
	if !s.ok() {
		return false
	}
	return Sleep(s.ctx, d)
}

// waitLegs blocks until the leg queue drains or the script is canceled.
func (s *script) waitLegs() bool {
	for s.ok() {
		if s.dog.LegsIdle() {
			return true
		}
		if !Sleep(s.ctx, legsPollInterval) {
			return false
		}
	}
	return false
}

// result is the error a behavior should return: cancellation is not a failure.
func (s *script) result() error {
	return s.err
}

// clamp limits v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// inRange reports whether a distance reading lies strictly between min and max.
// Readings of zero or less are the sensor's "no echo" and never qualify.
func inRange(d, min, max float64) bool {
	return d > 0 && d > min && d < max
}
