package behavior

import (
	"log/slog"
	"strings"
)

// Canonical behavior names.
const (
	NameWakeUp    = "wake_up"
	NamePatrol    = "patrol"
	NameRest      = "rest"
	NamePushUp    = "push_up"
	NameHowl      = "howl"
	NameBalance   = "balance"
	NameResponse  = "response"
	NameBallTrack = "ball_track"
	NameDemo      = "demo"
	NameKidsPlay  = "kids_play"
)

// Entry is one known behavior.
type Entry struct {
	Name        string
	Keywords    []string
	Description string
	Run         Behavior
}

// Registry maps free-form identifiers to known behaviors. Its contents are fixed at construction.
type Registry struct {
	entries []Entry
}

// NewRegistry creates a registry. Entry order is the keyword matching priority.
func NewRegistry(entries ...Entry) *Registry {
	return &Registry{entries: entries}
}

// DefaultRegistry returns the registry of every built-in behavior.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Entry{Name: NameKidsPlay, Keywords: []string{"kids", "play"}, Description: "interactive play with lift, touch, proximity and sound reactions", Run: KidsPlay},
		Entry{Name: NameBallTrack, Keywords: []string{"ball", "track"}, Description: "follow a red ball with head and body", Run: BallTrack},
		Entry{Name: NameWakeUp, Keywords: []string{"wake"}, Description: "stretch, sit up and greet", Run: WakeUp},
		Entry{Name: NamePatrol, Keywords: []string{"patrol"}, Description: "walk forward, halt and bark at obstacles", Run: Patrol},
		Entry{Name: NamePushUp, Keywords: []string{"push"}, Description: "push-ups until stopped", Run: PushUp},
		Entry{Name: NameHowl, Keywords: []string{"howl"}, Description: "sit and howl", Run: Howl},
		Entry{Name: NameBalance, Keywords: []string{"balance"}, Description: "keep the body level using the IMU", Run: Balance},
		Entry{Name: NameResponse, Keywords: []string{"response", "react"}, Description: "back away from close objects, enjoy head pats", Run: Response},
		Entry{Name: NameDemo, Keywords: []string{"demo"}, Description: "wake up, push-ups, howl, lie down", Run: Demo},
		Entry{Name: NameRest, Keywords: []string{"rest", "sleep", "lie"}, Description: "lie down and doze", Run: Rest},
	)
}

// Lookup resolves id to a behavior: an exact canonical name wins, otherwise the first
// entry with a keyword contained in id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return Entry{}, false
	}
	for _, e := range r.entries {
		if e.Name == key {
			return e, true
		}
	}
	for _, e := range r.entries {
		for _, kw := range e.Keywords {
			if strings.Contains(key, kw) {
				slog.Debug("Registry.Lookup: keyword match", "id", id, "keyword", kw, "behavior", e.Name)
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Entries returns the registered behaviors in priority order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
