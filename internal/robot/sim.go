package robot

import (
	"log/slog"
	"sync"
	"time"
)

// Timing model of the simulated driver.
const (
	simStepDuration = 400 * time.Millisecond
	simHeadDuration = 150 * time.Millisecond
)

// Simulated is an in-process stand-in for the PiDog driver. Commands are logged and
// occupy the simulated leg and head queues for a plausible duration; sensors report a
// robot standing alone on a desk.
type Simulated struct {
	mu            sync.Mutex
	legsBusyUntil time.Time
	headBusyUntil time.Time
	headQueue     []time.Time
	head          HeadPose
	now           func() time.Time
}

// NewSimulated creates a simulated driver.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

func (s *Simulated) occupyLegs(d time.Duration) {
	now := s.now()
	if s.legsBusyUntil.Before(now) {
		s.legsBusyUntil = now
	}
	s.legsBusyUntil = s.legsBusyUntil.Add(d)
}

func (s *Simulated) DoAction(name string, steps, speed int) error {
	if steps < 1 {
		steps = 1
	}
	s.mu.Lock()
	s.occupyLegs(time.Duration(steps) * simStepDuration)
	s.mu.Unlock()
	slog.Debug("Simulated.DoAction", "action", name, "steps", steps, "speed", speed)
	return nil
}

func (s *Simulated) LegsMove(frames [][]float64, speed int) error {
	s.mu.Lock()
	s.occupyLegs(time.Duration(len(frames)) * simHeadDuration)
	s.mu.Unlock()
	slog.Debug("Simulated.LegsMove", "frames", len(frames), "speed", speed)
	return nil
}

func (s *Simulated) HeadMove(pose HeadPose, speed int, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneHead(now)
	if immediate {
		s.headQueue = s.headQueue[:0]
		s.headBusyUntil = now
	}
	if s.headBusyUntil.Before(now) {
		s.headBusyUntil = now
	}
	s.headBusyUntil = s.headBusyUntil.Add(simHeadDuration)
	s.headQueue = append(s.headQueue, s.headBusyUntil)
	s.head = pose
	slog.Debug("Simulated.HeadMove", "yaw", pose.Yaw, "roll", pose.Roll, "pitch", pose.Pitch, "speed", speed, "immediate", immediate)
	return nil
}

func (s *Simulated) pruneHead(now time.Time) {
	n := 0
	for _, until := range s.headQueue {
		if until.After(now) {
			s.headQueue[n] = until
			n++
		}
	}
	s.headQueue = s.headQueue[:n]
}

func (s *Simulated) TailMove(angle float64, speed int) error {
	slog.Debug("Simulated.TailMove", "angle", angle, "speed", speed)
	return nil
}

func (s *Simulated) SetRGB(mode RGBMode) error {
	slog.Debug("Simulated.SetRGB", "style", mode.Style, "color", mode.Color, "bps", mode.BPS, "brightness", mode.Brightness)
	return nil
}

func (s *Simulated) Speak(sound string, volume int) error {
	slog.Debug("Simulated.Speak", "sound", sound, "volume", volume)
	return nil
}

func (s *Simulated) BodyStop() error {
	s.mu.Lock()
	now := s.now()
	s.legsBusyUntil = now
	s.headBusyUntil = now
	s.headQueue = s.headQueue[:0]
	s.mu.Unlock()
	slog.Debug("Simulated.BodyStop")
	return nil
}

func (s *Simulated) LegsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.legsBusyUntil.After(s.now())
}

func (s *Simulated) HeadIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.headBusyUntil.After(s.now())
}

func (s *Simulated) AllIdle() bool {
	return s.LegsIdle() && s.HeadIdle()
}

func (s *Simulated) HeadQueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneHead(s.now())
	return len(s.headQueue)
}

func (s *Simulated) Distance() float64 { return 120 }

func (s *Simulated) Touch() Touch { return TouchNone }

func (s *Simulated) SoundDirection() (int, bool) { return 0, false }

// Acceleration reports gravity along the body axis the driver uses as vertical.
func (s *Simulated) Acceleration() Vector3 { return Vector3{X: -1} }
