package behavior

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

// supermanLegs stretches all four legs out like a flying dog.
var supermanLegs = [][]float64{{-70, 30, 70, -30, 70, -30, -70, 30}}

// KidsPlay is the interactive routine: it flies when lifted, reacts to close objects,
// pats and sounds, dozes off when ignored and wakes up on a touch.
func KidsPlay(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	tick := env.Tuning.Tick
	if tick <= 0 {
		tick = Tick
	}

	s.rgb(lightAwake)
	s.action("stand", 1, slowSpeed)
	s.waitLegs()

	m := NewInteraction(env.Tuning, env.now())
	dozeUp := false
	for s.ok() {
		r := sample(env.Dog)
		before := m.State()
		ev := m.Step(env.now(), r)
		if ev != EventNone && ev != EventDoze {
			slog.Debug("KidsPlay: transition", "event", ev, "from", before, "to", m.State())
		}
		switch ev {
		case EventLifted:
			s.stop()
			s.rgb(lightAirborne)
			s.legs(supermanLegs, fastSpeed)
			s.head(robot.HeadPose{Pitch: 20}, robot.DefaultHeadSpeed, true)
			s.speak("woohoo")
		case EventLanded, EventWake:
			s.rgb(lightAwake)
			s.head(robot.NeutralHead, robot.DefaultHeadSpeed, true)
			s.action("stand", 1, slowSpeed)
		case EventProximity:
			s.rgb(lightAlert)
			s.action("backward", 1, fastSpeed)
			s.speak("single_bark_1")
		case EventTouch:
			s.rgb(lightHappy)
			s.action("wag_tail", 2, fastSpeed)
			s.head(robot.HeadPose{Pitch: -10}, robot.DefaultHeadSpeed, false)
			s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
			s.speak("pant")
		case EventSound:
			s.head(robot.HeadPose{Yaw: soundYaw(r.SoundAngle)}, robot.DefaultHeadSpeed, true)
			s.speak("confused_1")
		case EventSettled:
			s.rgb(lightAwake)
			s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
		case EventSleep:
			s.action("lie", 1, slowSpeed)
			s.rgb(lightSleepy)
		case EventDoze:
			pitch := -15.0
			if dozeUp {
				pitch = -8
			}
			dozeUp = !dozeUp
			s.head(robot.HeadPose{Pitch: pitch}, 20, false)
		}
		s.wait(tick)
	}
	return s.result()
}

// sample reads every sensor the interaction needs.
func sample(dog robot.Handle) Reading {
	angle, heard := dog.SoundDirection()
	return Reading{
		Accel:         dog.Acceleration().X,
		Touch:         dog.Touch(),
		Distance:      dog.Distance(),
		SoundDetected: heard,
		SoundAngle:    angle,
	}
}

// soundYaw maps a sound bearing (0..359, clockwise from the nose) to a reachable head yaw.
func soundYaw(angle int) float64 {
	a := float64(angle % 360)
	if a > 180 {
		a -= 360
	}
	// Clockwise bearings are to the right, which is negative yaw.
	return clamp(-a, -80, 80)
}
