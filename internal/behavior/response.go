package behavior

import (
	"context"

	"github.com/BTreeMap/PiDogd/internal/robot"
	bt "github.com/joeycumines/go-behaviortree"
)

// Response branches, in priority order.
const (
	branchProximity = "proximity"
	branchTouch     = "touch"
	branchIdle      = "idle"
)

// responseMinDistance filters out echoes off the robot's own body.
const responseMinDistance = 1

// condition is a leaf that succeeds when fn returns true.
func condition(fn func() bool) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if fn() {
			return bt.Success, nil
		}
		return bt.Failure, nil
	})
}

// act is a leaf that runs fn and fails with its error.
func act(fn func() error) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if err := fn(); err != nil {
			return bt.Failure, err
		}
		return bt.Success, nil
	})
}

// responder evaluates one response cycle per tick. Only the first branch whose
// condition holds runs.
type responder struct {
	s      *script
	env    Env
	tree   bt.Node
	fired  string
	calm   bool
	sample struct {
		distance float64
		touch    robot.Touch
	}
}

func newResponder(s *script, env Env) *responder {
	r := &responder{s: s, env: env}
	r.tree = bt.New(bt.Selector,
		bt.New(bt.Sequence, condition(r.tooClose), act(r.backAway)),
		bt.New(bt.Sequence, condition(r.patted), act(r.enjoy)),
		act(r.idle),
	)
	return r
}

// cycle samples the sensors once and ticks the tree, returning the branch that fired.
func (r *responder) cycle() (string, error) {
	r.sample.distance = r.env.Dog.Distance()
	r.sample.touch = r.env.Dog.Touch()
	r.fired = ""
	if _, err := r.tree.Tick(); err != nil {
		return r.fired, err
	}
	return r.fired, r.s.result()
}

func (r *responder) tooClose() bool {
	return inRange(r.sample.distance, responseMinDistance, r.env.Tuning.ResponseDistance)
}

// patted ignores touches while the head is still working through earlier nods.
func (r *responder) patted() bool {
	return r.sample.touch.Touched() && r.env.Dog.HeadQueueLen() < r.env.Tuning.HeadQueueCap
}

func (r *responder) backAway() error {
	r.fired = branchProximity
	r.calm = false
	r.s.rgb(lightAlert)
	r.s.action("backward", 2, fastSpeed)
	r.s.speak("single_bark_1")
	r.s.waitLegs()
	return r.s.result()
}

func (r *responder) enjoy() error {
	r.fired = branchTouch
	r.calm = false
	r.s.rgb(lightHappy)
	r.s.tail(30, fastSpeed)
	r.s.tail(-30, fastSpeed)
	r.s.tail(0, fastSpeed)
	r.s.head(robot.HeadPose{Pitch: -10}, robot.DefaultHeadSpeed, false)
	r.s.head(robot.NeutralHead, robot.DefaultHeadSpeed, false)
	return r.s.result()
}

// idle settles into the calm pose once and then stays quiet.
func (r *responder) idle() error {
	r.fired = branchIdle
	if !r.calm {
		r.s.rgb(lightAwake)
		r.s.action("sit", 1, slowSpeed)
		r.calm = true
	}
	return r.s.result()
}

// Response reacts to its surroundings: backs away and barks at close objects, wags and
// nods when patted, and sits calmly otherwise.
func Response(ctx context.Context, env Env) error {
	s := newScript(ctx, env.Dog)
	tick := env.Tuning.Tick
	if tick <= 0 {
		tick = Tick
	}
	r := newResponder(s, env)
	s.action("sit", 1, slowSpeed)
	s.waitLegs()
	r.calm = true
	for s.ok() {
		if _, err := r.cycle(); err != nil {
			return err
		}
		s.wait(tick)
	}
	return s.result()
}
