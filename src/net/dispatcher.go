package net

import (
	"sync"

	"github.com/mosaicnetworks/acol/src/peers"
)

type eventKind uint8

const (
	eventAvailable eventKind = iota
	eventUnavailable
	eventSubscribeRequest
	eventSubscribeAccepted
)

type presenceEvent struct {
	kind   eventKind
	from   peers.JID
	status string
}

// dispatcher queues presence events and hands them to the PresenceHandler
// from a single goroutine. The queue is unbounded so that a handler calling
// back into another transport can never block on a full channel.
type dispatcher struct {
	lock       sync.Mutex
	handler    PresenceHandler
	queue      []presenceEvent
	notifyCh   chan struct{}
	shutdownCh chan struct{}
	doneCh     chan struct{}
	startOnce  sync.Once
	closeOnce  sync.Once
	started    bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		notifyCh:   make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (d *dispatcher) register(h PresenceHandler) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.handler != nil {
		return ErrHandlerRegistered
	}
	d.handler = h

	return nil
}

func (d *dispatcher) push(kind eventKind, from peers.JID, status string) {
	d.lock.Lock()
	d.queue = append(d.queue, presenceEvent{kind: kind, from: from, status: status})
	d.lock.Unlock()

	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *dispatcher) start() {
	d.startOnce.Do(func() {
		d.lock.Lock()
		d.started = true
		d.lock.Unlock()
		go d.run()
	})
}

func (d *dispatcher) run() {
	defer close(d.doneCh)

	for {
		select {
		case <-d.notifyCh:
			d.lock.Lock()
			events := d.queue
			d.queue = nil
			h := d.handler
			d.lock.Unlock()

			if h == nil {
				continue
			}

			for _, ev := range events {
				deliver(h, ev)
			}
		case <-d.shutdownCh:
			return
		}
	}
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		close(d.shutdownCh)

		d.lock.Lock()
		started := d.started
		d.lock.Unlock()

		if started {
			<-d.doneCh
		}
	})
}

func deliver(h PresenceHandler, ev presenceEvent) {
	switch ev.kind {
	case eventAvailable:
		h.OnAvailable(ev.from, ev.status)
	case eventUnavailable:
		h.OnUnavailable(ev.from)
	case eventSubscribeRequest:
		h.OnSubscribeRequest(ev.from)
	case eventSubscribeAccepted:
		h.OnSubscribeAccepted(ev.from)
	}
}
