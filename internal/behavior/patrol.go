package behavior

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

const (
	// obstaclePollInterval is the hold-loop cadence while an obstacle blocks the way.
	obstaclePollInterval = 10 * time.Millisecond
	// flourishEvery is the number of clear patrol cycles between idle flourishes.
	flourishEvery = 40
)

// Patrol walks forward and halts with an alert whenever something is closer than the
// danger distance, holding until it clears.
func Patrol(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	tick := env.Tuning.Tick
	if tick <= 0 {
		tick = Tick
	}

	s.rgb(lightPatrol)
	s.action("stand", 1, slowSpeed)
	s.waitLegs()

	for cycle := 1; s.ok(); cycle++ {
		if d := env.Dog.Distance(); inRange(d, 0, env.Tuning.DangerDistance) {
			slog.Info("Patrol: obstacle ahead", "distance", d)
			holdForObstacle(s, env)
			continue
		}
		if env.Dog.LegsIdle() {
			s.action("forward", 1, fastSpeed)
		}
		if cycle%flourishEvery == 0 {
			flourish(s, cycle/flourishEvery)
		}
		s.wait(tick)
	}
	return s.result()
}

// holdForObstacle stops, alerts and waits for the way to clear.
func holdForObstacle(s *script, env Env) {
	s.stop()
	s.rgb(lightAlert)
	s.head(robot.HeadPose{Pitch: 10}, robot.DefaultHeadSpeed, true)
	s.speak("angry")
	for s.ok() && inRange(env.Dog.Distance(), 0, env.Tuning.DangerDistance) {
		s.wait(obstaclePollInterval)
	}
	if !s.ok() {
		return
	}
	slog.Info("Patrol: way is clear")
	s.head(robot.NeutralHead, robot.DefaultHeadSpeed, true)
	s.rgb(lightPatrol)
}

// flourish alternates a tail wag and a glance to one side.
func flourish(s *script, n int) {
	if n%2 == 0 {
		s.tail(30, fastSpeed)
		s.tail(-30, fastSpeed)
		s.tail(0, fastSpeed)
		return
	}
	yaw := 25.0
	if n%4 == 1 {
		yaw = -yaw
	}
	s.head(robot.HeadPose{Yaw: yaw}, robot.DefaultHeadSpeed, false)
	s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
}
