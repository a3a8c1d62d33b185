package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/sirupsen/logrus"
)

// Hub routes presence events and messages between InmemTransports. It plays
// the role of the messaging server when a whole fleet runs in one process.
type Hub struct {
	sync.RWMutex
	transports map[peers.JID]*InmemTransport
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		transports: make(map[peers.JID]*InmemTransport),
	}
}

func (h *Hub) connect(t *InmemTransport) {
	h.Lock()
	defer h.Unlock()
	h.transports[t.localAddr] = t
}

func (h *Hub) disconnect(addr peers.JID) {
	h.Lock()
	defer h.Unlock()
	delete(h.transports, addr)
}

func (h *Hub) lookup(addr peers.JID) *InmemTransport {
	h.RLock()
	defer h.RUnlock()
	return h.transports[addr]
}

// Connected returns the JIDs of the transports currently connected to the
// hub.
func (h *Hub) Connected() []peers.JID {
	h.RLock()
	defer h.RUnlock()

	res := peers.NewSet()
	for addr := range h.transports {
		res.Add(addr)
	}
	return res.Slice()
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// run and tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	hub            *Hub
	localAddr      peers.JID
	consumerCh     chan Message
	maxMessageSize int
	timeout        time.Duration

	available   bool
	status      string
	subscribers peers.Set

	dispatcher *dispatcher
	closed     bool
	logger     *logrus.Entry
}

// NewInmemTransport is used to initialize a new transport attached to hub.
// The transport is only reachable by other transports once Listen has been
// called.
func NewInmemTransport(hub *Hub, addr peers.JID, maxMessageSize int, logger *logrus.Entry) *InmemTransport {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &InmemTransport{
		hub:            hub,
		localAddr:      addr,
		consumerCh:     make(chan Message, 256),
		maxMessageSize: maxMessageSize,
		timeout:        500 * time.Millisecond,
		subscribers:    peers.NewSet(),
		dispatcher:     newDispatcher(),
		logger:         logger.WithField("transport", "inmem"),
	}
}

// Listen implements the Transport interface.
func (i *InmemTransport) Listen() error {
	i.RLock()
	closed := i.closed
	i.RUnlock()

	if closed {
		return ErrTransportShutdown
	}

	i.hub.connect(i)
	i.dispatcher.start()

	return nil
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() peers.JID {
	return i.localAddr
}

// RegisterHandler implements the Transport interface.
func (i *InmemTransport) RegisterHandler(h PresenceHandler) error {
	return i.dispatcher.register(h)
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Message {
	return i.consumerCh
}

// MaxMessageSize implements the Transport interface.
func (i *InmemTransport) MaxMessageSize() int {
	return i.maxMessageSize
}

func (i *InmemTransport) peer(target peers.JID) (*InmemTransport, error) {
	i.RLock()
	closed := i.closed
	i.RUnlock()

	if closed {
		return nil, ErrTransportShutdown
	}

	peer := i.hub.lookup(target)
	if peer == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}

	return peer, nil
}

// Subscribe implements the Transport interface.
func (i *InmemTransport) Subscribe(target peers.JID) error {
	peer, err := i.peer(target)
	if err != nil {
		return err
	}

	peer.dispatcher.push(eventSubscribeRequest, i.localAddr, "")

	return nil
}

// Approve implements the Transport interface. The requester is told that the
// subscription was accepted and, if we are online, immediately receives our
// current presence.
func (i *InmemTransport) Approve(requester peers.JID) error {
	peer, err := i.peer(requester)
	if err != nil {
		return err
	}

	i.Lock()
	i.subscribers.Add(requester)
	available, status := i.available, i.status
	i.Unlock()

	peer.dispatcher.push(eventSubscribeAccepted, i.localAddr, "")
	if available {
		peer.dispatcher.push(eventAvailable, i.localAddr, status)
	}

	return nil
}

// Unsubscribe implements the Transport interface. Our own handler receives an
// unavailable event for target since we no longer follow its presence.
func (i *InmemTransport) Unsubscribe(target peers.JID) error {
	i.RLock()
	closed := i.closed
	i.RUnlock()

	if closed {
		return ErrTransportShutdown
	}

	if peer := i.hub.lookup(target); peer != nil {
		peer.Lock()
		peer.subscribers.Remove(i.localAddr)
		peer.Unlock()
	}

	i.dispatcher.push(eventUnavailable, target, "")

	return nil
}

// SetPresence implements the Transport interface.
func (i *InmemTransport) SetPresence(state PresenceState, status string) error {
	i.Lock()
	if i.closed {
		i.Unlock()
		return ErrTransportShutdown
	}
	i.available = state == Available
	i.status = status
	subscribers := i.subscribers.Slice()
	i.Unlock()

	i.broadcast(state, status, subscribers)

	return nil
}

func (i *InmemTransport) broadcast(state PresenceState, status string, subscribers []peers.JID) {
	for _, s := range subscribers {
		peer := i.hub.lookup(s)
		if peer == nil {
			continue
		}
		if state == Available {
			peer.dispatcher.push(eventAvailable, i.localAddr, status)
		} else {
			peer.dispatcher.push(eventUnavailable, i.localAddr, "")
		}
	}
}

// Send implements the Transport interface.
func (i *InmemTransport) Send(target peers.JID, body []byte) error {
	if len(body) > i.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(body), i.maxMessageSize)
	}

	peer, err := i.peer(target)
	if err != nil {
		return err
	}

	cp := make([]byte, len(body))
	copy(cp, body)

	select {
	case peer.consumerCh <- Message{From: i.localAddr, Body: cp}:
		return nil
	case <-time.After(i.timeout):
		return fmt.Errorf("%w: sending to %s", ErrTimeout, target)
	}
}

// Close is used to permanently disable the transport. Subscribers that still
// see us as available are told we went offline, like a server would when a
// connection drops.
func (i *InmemTransport) Close() error {
	i.Lock()
	if i.closed {
		i.Unlock()
		return nil
	}
	i.closed = true
	wasAvailable := i.available
	i.available = false
	subscribers := i.subscribers.Slice()
	i.Unlock()

	if wasAvailable {
		i.broadcast(Unavailable, "", subscribers)
	}

	i.hub.disconnect(i.localAddr)
	i.dispatcher.close()

	return nil
}
