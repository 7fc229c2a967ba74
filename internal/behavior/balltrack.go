package behavior

import (
	"context"
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

// trackTick is the visual servo cadence.
const trackTick = 20 * time.Millisecond

// tracker is the head target of the visual servo.
type tracker struct {
	yaw   float64
	pitch float64
}

// step moves the head target one fixed increment toward the blob. A lost blob recenters.
func (tr tracker) step(b Blob, t Tuning) tracker {
	if b.Width <= 0 {
		return tracker{}
	}
	// Positive yaw turns the head left; a blob right of center needs negative yaw.
	switch {
	case b.X > t.TrackDeadband:
		tr.yaw -= t.TrackStep
	case b.X < -t.TrackDeadband:
		tr.yaw += t.TrackStep
	}
	switch {
	case b.Y > t.TrackDeadband:
		tr.pitch -= t.TrackStep
	case b.Y < -t.TrackDeadband:
		tr.pitch += t.TrackStep
	}
	tr.yaw = clamp(tr.yaw, -t.YawLimit, t.YawLimit)
	tr.pitch = clamp(tr.pitch, t.PitchMin, t.PitchMax)
	return tr
}

// locomotion picks the body action for the current target, or "" to stay put.
func (tr tracker) locomotion(b Blob, t Tuning) string {
	switch {
	case b.Width <= 0, b.Width >= t.CloseWidth:
		return ""
	case tr.yaw > t.TurnYaw:
		return "turn_left"
	case tr.yaw < -t.TurnYaw:
		return "turn_right"
	default:
		return "forward"
	}
}

// BallTrack chases a colored ball: the head follows the blob every tick and the body
// turns or walks toward it whenever the legs are free.
func BallTrack(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	s.rgb(lightPatrol)
	s.action("stand", 1, slowSpeed)
	s.waitLegs()

	var tr tracker
	last := tracker{yaw: 1} // force the first head command
	for s.ok() {
		b := env.blob()
		tr = tr.step(b, env.Tuning)
		if tr != last {
			s.head(robot.HeadPose{Yaw: tr.yaw, Pitch: tr.pitch}, robot.DefaultHeadSpeed, true)
			last = tr
		}
		if env.Dog.LegsIdle() {
			if move := tr.locomotion(b, env.Tuning); move != "" {
				s.action(move, 1, fastSpeed)
			}
		}
		s.wait(trackTick)
	}
	return s.result()
}
