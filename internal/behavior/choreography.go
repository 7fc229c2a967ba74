package behavior

import (
	"context"
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

// Light presets shared by the choreographies.
var (
	lightAwake    = robot.RGBMode{Style: "breath", Color: "pink", BPS: 1, Brightness: 0.8}
	lightSleepy   = robot.RGBMode{Style: "breath", Color: "pink", BPS: 0.3, Brightness: 0.3}
	lightAlert    = robot.RGBMode{Style: "boom", Color: "red", BPS: 2, Brightness: 1}
	lightHowl     = robot.RGBMode{Style: "speak", Color: "cyan", BPS: 0.6, Brightness: 0.8}
	lightPatrol   = robot.RGBMode{Style: "breath", Color: "white", BPS: 0.5, Brightness: 0.6}
	lightHappy    = robot.RGBMode{Style: "bark", Color: "yellow", BPS: 2, Brightness: 0.9}
	lightAirborne = robot.RGBMode{Style: "boom", Color: "blue", BPS: 3, Brightness: 1}
)

const (
	slowSpeed = 60
	fastSpeed = 98
)

// WakeUp stretches, sits up, wags and stands.
func WakeUp(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	wakeUp(s)
	return s.result()
}

func wakeUp(s *script) {
	s.rgb(lightSleepy)
	s.action("stretch", 1, slowSpeed)
	s.waitLegs()
	s.wait(500 * time.Millisecond)
	s.action("sit", 1, slowSpeed)
	s.waitLegs()
	s.rgb(lightAwake)
	for i := 0; i < 2 && s.ok(); i++ {
		s.tail(30, fastSpeed)
		s.wait(150 * time.Millisecond)
		s.tail(-30, fastSpeed)
		s.wait(150 * time.Millisecond)
	}
	s.tail(0, fastSpeed)
	s.head(robot.HeadPose{Pitch: 20}, robot.DefaultHeadSpeed, false)
	s.speak("woohoo")
	s.wait(800 * time.Millisecond)
	s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
	s.action("stand", 1, slowSpeed)
	s.waitLegs()
}

// Rest lies down and dozes until stopped.
func Rest(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	lieDown(s)
	for s.ok() {
		s.head(robot.HeadPose{Pitch: -15}, 20, false)
		s.wait(1200 * time.Millisecond)
		s.head(robot.HeadPose{Pitch: -8}, 20, false)
		s.wait(1200 * time.Millisecond)
	}
	return s.result()
}

func lieDown(s *script) {
	s.action("lie", 1, slowSpeed)
	s.waitLegs()
	s.rgb(lightSleepy)
	s.head(robot.HeadPose{Pitch: -10}, 40, false)
}

// PushUp does push-ups until stopped, barking every third repetition.
func PushUp(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	s.action("stand", 1, fastSpeed)
	s.waitLegs()
	for rep := 1; s.ok(); rep++ {
		pushUpOnce(s, rep)
	}
	return s.result()
}

func pushUpOnce(s *script, rep int) {
	s.action("push_up", 1, fastSpeed)
	s.waitLegs()
	if rep%3 == 0 {
		s.speak("single_bark_1")
	}
}

// Howl sits, raises the head and howls once.
func Howl(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	howl(s)
	return s.result()
}

func howl(s *script) {
	s.action("sit", 1, slowSpeed)
	s.waitLegs()
	s.head(robot.HeadPose{Pitch: 30}, robot.DefaultHeadSpeed, false)
	s.rgb(lightHowl)
	s.speak("howling")
	s.wait(2500 * time.Millisecond)
	s.rgb(lightAwake)
	s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
}

// Demo chains the wake-up, three push-ups, a howl and lying down.
func Demo(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	wakeUp(s)
	s.action("stand", 1, fastSpeed)
	s.waitLegs()
	for rep := 1; rep <= 3 && s.ok(); rep++ {
		pushUpOnce(s, rep)
	}
	howl(s)
	lieDown(s)
	return s.result()
}

// standLegs is the standing pose as four (hip, knee) pairs: left front, right front,
// left hind, right hind.
var standLegs = [8]float64{45, 10, -45, -10, 45, 10, -45, -10}

// balanceFrame returns the stand pose with hips offset to counter the measured tilt.
// Positive pitch tilts the nose down, positive roll drops the left side.
func balanceFrame(acc robot.Vector3, t Tuning) []float64 {
	pitch := clamp(acc.Z*t.BalanceGain, -t.BalanceMaxOffset, t.BalanceMaxOffset)
	roll := clamp(acc.Y*t.BalanceGain, -t.BalanceMaxOffset, t.BalanceMaxOffset)
	frame := make([]float64, len(standLegs))
	copy(frame, standLegs[:])
	offsets := [4]float64{
		pitch + roll,  // left front
		-pitch + roll, // right front
		-pitch - roll, // left hind
		pitch - roll,  // right hind
	}
	for leg, off := range offsets {
		frame[leg*2] += off
	}
	return frame
}

// Balance stands and keeps the body level from accelerometer feedback until stopped.
func Balance(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	interval := env.Tuning.BalanceInterval
	if interval <= 0 {
		interval = Tick
	}
	s.action("stand", 1, slowSpeed)
	s.waitLegs()
	for s.ok() {
		if env.Dog.LegsIdle() {
			s.legs([][]float64{balanceFrame(env.Dog.Acceleration(), env.Tuning)}, fastSpeed)
		}
		s.wait(interval)
	}
	return s.result()
}
