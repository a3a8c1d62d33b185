package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State captures the coordination state of a node: Setup, Train, Send or
// Receive. There is no terminal state; a node cycles through Train, Send and
// Receive until it is stopped.
type State uint32

const (
	// Setup is the initial state of a node.
	Setup State = iota
	// Train is the state in which a node runs a local training step.
	Train
	// Send is the state in which a node sends its model to a reachable
	// neighbour.
	Send
	// Receive is the state in which a node waits for a neighbour's model.
	Receive
)

// String ...
func (s State) String() string {
	switch s {
	case Setup:
		return "Setup"
	case Train:
		return "Train"
	case Send:
		return "Send"
	case Receive:
		return "Receive"
	default:
		return "Unknown"
	}
}

// Event is the outcome of a state's action.
type Event uint32

const (
	// SetupDone ends the Setup state.
	SetupDone Event = iota
	// Trained ends the Train state, whether the training step succeeded or
	// not.
	Trained
	// Sent ends the Send state after a payload was handed to the transport.
	Sent
	// SendSkipped ends the Send state when there was nothing to send or
	// nobody to send to.
	SendSkipped
	// Received ends the Receive state with a complete payload.
	Received
	// ReceiveTimeout ends the Receive state without a payload.
	ReceiveTimeout
)

// String ...
func (e Event) String() string {
	switch e {
	case SetupDone:
		return "SetupDone"
	case Trained:
		return "Trained"
	case Sent:
		return "Sent"
	case SendSkipped:
		return "SendSkipped"
	case Received:
		return "Received"
	case ReceiveTimeout:
		return "ReceiveTimeout"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition is returned by Transition for an event that cannot
// occur in the given state.
var ErrInvalidTransition = errors.New("node: invalid transition")

// Transition returns the state that follows s after event e.
func Transition(s State, e Event) (State, error) {
	switch {
	case s == Setup && e == SetupDone:
		return Train, nil
	case s == Train && e == Trained:
		return Send, nil
	case s == Send && (e == Sent || e == SendSkipped):
		return Receive, nil
	case s == Receive && (e == Received || e == ReceiveTimeout):
		return Train, nil
	}
	return s, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, e, s)
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup
func (b *state) goFunc(f func()) {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			defer atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
	}
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
