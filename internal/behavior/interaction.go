package behavior

import (
	"time"

	"github.com/BTreeMap/PiDogd/internal/robot"
	bt "github.com/joeycumines/go-behaviortree"
)

// State is the mood of the interactive play routine.
type State int

const (
	StateSleep State = iota
	StateAwake
	StateSuperman
	StateInteracting
)

func (s State) String() string {
	switch s {
	case StateSleep:
		return "SLEEP"
	case StateAwake:
		return "AWAKE"
	case StateSuperman:
		return "SUPERMAN"
	case StateInteracting:
		return "INTERACTING"
	default:
		return "UNKNOWN"
	}
}

// Event is what a Step asks the robot to act out.
type Event int

const (
	EventNone Event = iota
	EventLifted
	EventLanded
	EventProximity
	EventTouch
	EventSound
	EventSettled
	EventSleep
	EventWake
	EventDoze
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventLifted:
		return "lifted"
	case EventLanded:
		return "landed"
	case EventProximity:
		return "proximity"
	case EventTouch:
		return "touch"
	case EventSound:
		return "sound"
	case EventSettled:
		return "settled"
	case EventSleep:
		return "sleep"
	case EventWake:
		return "wake"
	case EventDoze:
		return "doze"
	default:
		return "unknown"
	}
}

// Reading is one sensor sample.
type Reading struct {
	Accel         float64 // vertical acceleration in g
	Touch         robot.Touch
	Distance      float64
	SoundDetected bool
	SoundAngle    int
}

// Interaction is the state machine behind kids play. It is driven by Step and performs no I/O.
type Interaction struct {
	tuning Tuning

	state        State
	stateTimer   time.Time
	liftDetected bool
	dropDetected bool
	lastSound    time.Time
	lastTrigger  time.Time

	// triggers is the AWAKE priority selector; it reads pending and writes fired.
	triggers bt.Node
	pending  Reading
	now      time.Time
	fired    Event
}

// NewInteraction starts the machine AWAKE at now.
func NewInteraction(t Tuning, now time.Time) *Interaction {
	m := &Interaction{tuning: t, state: StateAwake, lastTrigger: now}
	m.triggers = bt.New(bt.Selector,
		m.trigger(EventProximity, m.proximity),
		m.trigger(EventTouch, m.touched),
		m.trigger(EventSound, m.heard),
	)
	return m
}

// State returns the current state.
func (m *Interaction) State() State { return m.state }

// Flags returns the latched lift and drop flags.
func (m *Interaction) Flags() (lift, drop bool) { return m.liftDetected, m.dropDetected }

func (m *Interaction) trigger(ev Event, cond func() bool) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if !cond() {
			return bt.Failure, nil
		}
		m.fired = ev
		return bt.Success, nil
	})
}

func (m *Interaction) proximity() bool {
	return inRange(m.pending.Distance, 0, m.tuning.PlayDistance)
}

func (m *Interaction) touched() bool {
	return m.pending.Touch.Touched()
}

// heard accepts a sound at most once per cooldown.
func (m *Interaction) heard() bool {
	if !m.pending.SoundDetected {
		return false
	}
	if !m.lastSound.IsZero() && m.now.Sub(m.lastSound) < m.tuning.SoundCooldown {
		return false
	}
	m.lastSound = m.now
	return true
}

// Step feeds one reading taken at now and returns the resulting event.
func (m *Interaction) Step(now time.Time, r Reading) Event {
	if ev, handled := m.superman(now, r.Accel); handled {
		return ev
	}

	switch m.state {
	case StateInteracting:
		if now.Before(m.stateTimer) {
			return EventNone
		}
		m.state = StateAwake
		return EventSettled

	case StateAwake:
		m.pending, m.now, m.fired = r, now, EventNone
		if _, err := m.triggers.Tick(); err == nil && m.fired != EventNone {
			m.state = StateInteracting
			m.stateTimer = now.Add(m.tuning.InteractionWindow)
			m.lastTrigger = now
			return m.fired
		}
		if now.Sub(m.lastTrigger) >= m.tuning.IdleTimeout {
			m.state = StateSleep
			m.stateTimer = now.Add(m.tuning.DozeInterval)
			return EventSleep
		}
		return EventNone

	case StateSleep:
		if r.Touch.Touched() {
			m.state = StateAwake
			m.lastTrigger = now
			return EventWake
		}
		if now.Before(m.stateTimer) {
			return EventNone
		}
		m.stateTimer = now.Add(m.tuning.DozeInterval)
		return EventDoze
	}
	return EventNone
}

// superman runs the lift/drop detector. It reports handled when the reading caused a
// superman transition or the robot is airborne, which short-circuits every other trigger.
func (m *Interaction) superman(now time.Time, a float64) (Event, bool) {
	if m.state == StateSuperman {
		if a < m.tuning.LiftThreshold {
			m.liftDetected = true
		}
		if m.liftDetected && m.dropDetected && a > m.tuning.DropThreshold {
			m.liftDetected, m.dropDetected = false, false
			m.state = StateAwake
			m.lastTrigger = now
			return EventLanded, true
		}
		return EventNone, true
	}

	if a < m.tuning.LiftThreshold {
		m.liftDetected = true
		return EventNone, false
	}
	if m.liftDetected && a > m.tuning.DropThreshold {
		m.liftDetected = false
		m.dropDetected = true
		m.state = StateSuperman
		return EventLifted, true
	}
	return EventNone, false
}
