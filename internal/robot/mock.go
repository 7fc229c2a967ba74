package robot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrMockFailure is returned by MockHandle for commands matching FailOn.
var ErrMockFailure = errors.New("mock command failure")

// Command names recorded by MockHandle.
const (
	CmdAction   = "action"
	CmdLegs     = "legs"
	CmdHead     = "head"
	CmdTail     = "tail"
	CmdRGB      = "rgb"
	CmdSpeak    = "speak"
	CmdBodyStop = "body_stop"
)

// MockHandle records every command for order assertions and serves sensor values set by the test.
// It is safe for concurrent use.
type MockHandle struct {
	mu       sync.Mutex
	commands []string

	distance      float64
	touch         Touch
	soundAngle    int
	soundDetected bool
	accel         Vector3
	legsBusy      bool
	headQueue     int

	// DistanceFunc, when set, replaces the fixed distance value.
	DistanceFunc func() float64
	// AccelFunc, when set, replaces the fixed acceleration value.
	AccelFunc func() Vector3
	// FailOn makes every command whose recorded form starts with this prefix return ErrMockFailure.
	FailOn string
	// PanicOn makes every command whose recorded form starts with this prefix panic.
	PanicOn string
	// OnCommand is called with every recorded command, outside the lock.
	OnCommand func(cmd string)
}

// NewMockHandle creates a mock robot with idle queues and no sensor activity.
func NewMockHandle() *MockHandle {
	return &MockHandle{touch: TouchNone, accel: Vector3{X: -1}}
}

func (m *MockHandle) record(cmd string) error {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	failOn, panicOn, hook := m.FailOn, m.PanicOn, m.OnCommand
	m.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if panicOn != "" && strings.HasPrefix(cmd, panicOn) {
		panic(fmt.Sprintf("mock panic on %s", cmd))
	}
	if failOn != "" && strings.HasPrefix(cmd, failOn) {
		return ErrMockFailure
	}
	return nil
}

// Commands returns a copy of the recorded commands.
func (m *MockHandle) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// Reset clears the recorded commands.
func (m *MockHandle) Reset() {
	m.mu.Lock()
	m.commands = nil
	m.mu.Unlock()
}

// Count returns how many recorded commands start with prefix.
func (m *MockHandle) Count(prefix string) int {
	n := 0
	for _, c := range m.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Index returns the position of the first recorded command starting with prefix, or -1.
func (m *MockHandle) Index(prefix string) int {
	for i, c := range m.Commands() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (m *MockHandle) SetDistance(d float64) {
	m.mu.Lock()
	m.distance = d
	m.mu.Unlock()
}

func (m *MockHandle) SetTouch(t Touch) {
	m.mu.Lock()
	m.touch = t
	m.mu.Unlock()
}

func (m *MockHandle) SetSound(angle int, detected bool) {
	m.mu.Lock()
	m.soundAngle, m.soundDetected = angle, detected
	m.mu.Unlock()
}

func (m *MockHandle) SetAcceleration(v Vector3) {
	m.mu.Lock()
	m.accel = v
	m.mu.Unlock()
}

// SetLegsBusy makes LegsIdle report false.
func (m *MockHandle) SetLegsBusy(busy bool) {
	m.mu.Lock()
	m.legsBusy = busy
	m.mu.Unlock()
}

func (m *MockHandle) SetHeadQueueLen(n int) {
	m.mu.Lock()
	m.headQueue = n
	m.mu.Unlock()
}

func (m *MockHandle) DoAction(name string, steps, speed int) error {
	return m.record(CmdAction + ":" + name)
}

func (m *MockHandle) LegsMove(frames [][]float64, speed int) error {
	return m.record(fmt.Sprintf("%s:%d", CmdLegs, len(frames)))
}

func (m *MockHandle) HeadMove(pose HeadPose, speed int, immediate bool) error {
	return m.record(fmt.Sprintf("%s:%g,%g,%g", CmdHead, pose.Yaw, pose.Roll, pose.Pitch))
}

func (m *MockHandle) TailMove(angle float64, speed int) error {
	return m.record(fmt.Sprintf("%s:%g", CmdTail, angle))
}

func (m *MockHandle) SetRGB(mode RGBMode) error {
	return m.record(CmdRGB + ":" + mode.Style + ":" + mode.Color)
}

func (m *MockHandle) Speak(sound string, volume int) error {
	return m.record(CmdSpeak + ":" + sound)
}

func (m *MockHandle) BodyStop() error {
	return m.record(CmdBodyStop)
}

func (m *MockHandle) LegsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.legsBusy
}

func (m *MockHandle) HeadIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headQueue == 0
}

func (m *MockHandle) AllIdle() bool {
	return m.LegsIdle() && m.HeadIdle()
}

func (m *MockHandle) HeadQueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headQueue
}

func (m *MockHandle) Distance() float64 {
	m.mu.Lock()
	fn, d := m.DistanceFunc, m.distance
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return d
}

func (m *MockHandle) Touch() Touch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touch
}

func (m *MockHandle) SoundDirection() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soundAngle, m.soundDetected
}

func (m *MockHandle) Acceleration() Vector3 {
	m.mu.Lock()
	fn, v := m.AccelFunc, m.accel
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return v
}
