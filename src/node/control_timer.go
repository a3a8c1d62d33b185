package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces the background work of a node. It emits a single tick on
// tickCh once the timer fires, and must be reset to tick again.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
}

// NewControlTimer creates a ControlTimer whose timers come from timerFactory.
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer creates a ControlTimer that fires between min and
// 2*min after being set, so that nodes started together do not tick in
// lockstep.
func NewRandomControlTimer() *ControlTimer {

	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run sets the timer to init and serves ticks and resets until Shutdown.
func (c *ControlTimer) Run(init time.Duration) {

	timer := c.timerFactory(init)
	for {
		select {
		case <-timer:
			timer = nil
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
		case t := <-c.resetCh:
			timer = c.timerFactory(t)
		case <-c.shutdownCh:
			return
		}
	}
}

// Reset sets the timer to fire after t. It returns false if the timer was
// shut down.
func (c *ControlTimer) Reset(t time.Duration) bool {
	select {
	case c.resetCh <- t:
		return true
	case <-c.shutdownCh:
		return false
	}
}

// Shutdown stops the Run loop.
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
