package node

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	valid := map[State]map[Event]State{
		Setup:   {SetupDone: Train},
		Train:   {Trained: Send},
		Send:    {Sent: Receive, SendSkipped: Receive},
		Receive: {Received: Train, ReceiveTimeout: Train},
	}

	for _, s := range []State{Setup, Train, Send, Receive} {
		for _, e := range []Event{SetupDone, Trained, Sent, SendSkipped, Received, ReceiveTimeout} {
			next, err := Transition(s, e)

			expected, ok := valid[s][e]
			if ok {
				if err != nil {
					t.Fatalf("%s + %s: unexpected error %v", s, e, err)
				}
				if next != expected {
					t.Fatalf("%s + %s should lead to %s, not %s", s, e, expected, next)
				}
				continue
			}

			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s + %s should be invalid, got %v", s, e, err)
			}
			if next != s {
				t.Fatalf("invalid transition should not change the state")
			}
		}
	}
}

func TestStateString(t *testing.T) {
	for s, str := range map[State]string{
		Setup:     "Setup",
		Train:     "Train",
		Send:      "Send",
		Receive:   "Receive",
		State(42): "Unknown",
	} {
		if s.String() != str {
			t.Fatalf("%d should be %s, not %s", s, str, s.String())
		}
	}
}
