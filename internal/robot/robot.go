// Package robot defines the capability surface PiDogd consumes from the low-level PiDog driver.
//
// The driver itself (servo bus, leg kinematics, IMU registers, RGB strip) lives outside this
// module. Everything in PiDogd talks to it through Handle, which keeps behaviors testable
// against MockHandle and runnable against the Simulated driver.
package robot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverSim  = "sim"
	DriverNone = "none"
)

// ErrUnavailable is returned when the robot hardware cannot be initialized.
var ErrUnavailable = errors.New("robot hardware unavailable")

// Touch is the state reported by the dual touch sensor on the head.
type Touch string

const (
	// TouchNone means nothing is touching the sensor.
	TouchNone Touch = "N"
	// TouchLeft is a touch on the left pad.
	TouchLeft Touch = "L"
	// TouchRight is a touch on the right pad.
	TouchRight Touch = "R"
	// TouchLeftSlide is a front-to-back slide starting on the left pad.
	TouchLeftSlide Touch = "LS"
	// TouchRightSlide is a front-to-back slide starting on the right pad.
	TouchRightSlide Touch = "RS"
)

// Touched reports whether the value represents any touch at all.
func (t Touch) Touched() bool {
	return t != "" && t != TouchNone
}

// HeadPose is a head orientation in degrees.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// NeutralHead is the resting head orientation.
var NeutralHead = HeadPose{}

// Vector3 is a raw accelerometer sample in g.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RGBMode configures the light strip on the body.
type RGBMode struct {
	Style      string  `json:"style"`      // breath, boom, bark, monochromatic, speak, listen
	Color      string  `json:"color"`      // named color or #rrggbb
	BPS        float64 `json:"bps"`        // blinks per second
	Brightness float64 `json:"brightness"` // 0..1
}

// Speed and volume defaults used across the daemon.
const (
	DefaultActionSpeed = 95
	DefaultHeadSpeed   = 80
	DefaultVolume      = 80
)

// Actuator groups the motion and feedback commands of the robot.
type Actuator interface {
	// DoAction runs a named action from the driver's action table ("stand", "sit", "forward", ...).
	DoAction(name string, steps, speed int) error
	// LegsMove queues explicit leg angle frames of eight angles each.
	LegsMove(frames [][]float64, speed int) error
	// HeadMove queues a head pose; immediate drops anything still queued.
	HeadMove(pose HeadPose, speed int, immediate bool) error
	TailMove(angle float64, speed int) error
	SetRGB(mode RGBMode) error
	Speak(sound string, volume int) error
	// BodyStop halts every queued motion.
	BodyStop() error
}

// Readiness exposes the driver's motion queues.
type Readiness interface {
	LegsIdle() bool
	HeadIdle() bool
	AllIdle() bool
	HeadQueueLen() int
}

// Sensors exposes the robot's sensor reads. None of them block for longer than one sample.
type Sensors interface {
	// Distance returns the ultrasonic distance in centimeters; 0 or less means no echo.
	Distance() float64
	Touch() Touch
	// SoundDirection returns the bearing of the last detected sound.
	SoundDirection() (angle int, detected bool)
	Acceleration() Vector3
}

// Handle is everything a behavior or a direct-control request may use.
type Handle interface {
	Actuator
	Readiness
	Sensors
}

// Open returns a Handle for the named driver.
func Open(driver string) (Handle, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSim:
		slog.Info("robot.Open: using simulated driver")
		return NewSimulated(), nil
	case "", DriverNone:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrUnavailable, driver)
	}
}
