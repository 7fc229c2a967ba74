package behavior

import (
	"context"
	"testing"

	"github.com/BTreeMap/PiDogd/internal/robot"
)

func TestResponderBranches(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		touch     robot.Touch
		headQueue int
		want      string
	}{
		{"close object", 10, robot.TouchNone, 0, branchProximity},
		{"no echo", 0, robot.TouchNone, 0, branchIdle},
		{"self echo", 1, robot.TouchNone, 0, branchIdle},
		{"below self echo", 0.5, robot.TouchNone, 0, branchIdle},
		{"far object", 25, robot.TouchNone, 0, branchIdle},
		{"at threshold", 20, robot.TouchNone, 0, branchIdle},
		{"pat", 0, robot.TouchLeft, 0, branchTouch},
		{"slide pat", 50, robot.TouchRightSlide, 1, branchTouch},
		{"pat with full head queue", 0, robot.TouchLeft, 2, branchIdle},
		{"close object wins over pat", 10, robot.TouchRight, 0, branchProximity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dog := robot.NewMockHandle()
			dog.SetDistance(tt.distance)
			dog.SetTouch(tt.touch)
			dog.SetHeadQueueLen(tt.headQueue)
			r := newResponder(newScript(context.Background(), dog), Env{Dog: dog, Tuning: DefaultTuning()})

			got, err := r.cycle()
			if err != nil {
				t.Fatalf("cycle: %v", err)
			}
			if got != tt.want {
				t.Errorf("fired %q, want %q (commands %v)", got, tt.want, dog.Commands())
			}
			if tt.want == branchProximity && dog.Count(robot.CmdTail) != 0 {
				t.Errorf("only the first matching branch may run, got %v", dog.Commands())
			}
		})
	}
}

func TestResponderIdleSettlesOnce(t *testing.T) {
	dog := robot.NewMockHandle()
	r := newResponder(newScript(context.Background(), dog), Env{Dog: dog, Tuning: DefaultTuning()})
	for i := 0; i < 5; i++ {
		if _, err := r.cycle(); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	if n := dog.Count("action:sit"); n != 1 {
		t.Errorf("expected the calm pose once, got %d sits", n)
	}

	dog.SetDistance(5)
	r.cycle()
	dog.SetDistance(0)
	r.cycle()
	if n := dog.Count("action:sit"); n != 2 {
		t.Errorf("expected the calm pose again after a reaction, got %d sits", n)
	}
}

func TestResponderPropagatesDriverError(t *testing.T) {
	dog := robot.NewMockHandle()
	dog.FailOn = "action:backward"
	dog.SetDistance(5)
	r := newResponder(newScript(context.Background(), dog), Env{Dog: dog, Tuning: DefaultTuning()})
	if _, err := r.cycle(); err == nil {
		t.Errorf("expected the driver error to surface")
	}
}
