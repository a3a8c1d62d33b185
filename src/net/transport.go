package net

import (
	"errors"

	"github.com/mosaicnetworks/acol/src/peers"
)

// DefaultMaxMessageSize is the largest body a transport accepts in a single
// message, 256KiB, which matches the stanza limit of common XMPP servers.
const DefaultMaxMessageSize = 256 * 1024

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrMessageTooLarge is returned by Send when a body exceeds the
	// transport's MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnknownPeer is returned when the target of an operation is not
	// connected to the substrate.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrHandlerRegistered is returned when a second PresenceHandler is
	// registered with a transport.
	ErrHandlerRegistered = errors.New("presence handler already registered")

	// ErrTimeout is returned when a message could not be delivered in time.
	ErrTimeout = errors.New("command timed out")
)

// PresenceState is the availability a node advertises to its subscribers.
type PresenceState uint8

const (
	// Unavailable means the node is offline or withdrawing.
	Unavailable PresenceState = iota
	// Available means the node is online and accepting messages.
	Available
)

// String returns the string representation of a PresenceState
func (s PresenceState) String() string {
	switch s {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func parsePresenceState(s string) PresenceState {
	if s == Available.String() {
		return Available
	}
	return Unavailable
}

// PresenceHandler is the fixed set of callbacks through which a Transport
// reports presence events. A transport delivers events to its handler from a
// single goroutine, in the order they were received.
type PresenceHandler interface {
	// OnAvailable is called when a peer we are subscribed to comes online.
	OnAvailable(from peers.JID, status string)

	// OnUnavailable is called when a peer we are subscribed to goes offline,
	// or when we stop following it.
	OnUnavailable(from peers.JID)

	// OnSubscribeRequest is called when a peer asks to follow our presence.
	OnSubscribeRequest(from peers.JID)

	// OnSubscribeAccepted is called when a peer approves our subscription.
	OnSubscribeAccepted(from peers.JID)
}

// Transport is the presence and messaging substrate used by a node. It
// exposes subscription primitives, presence announcements, and best-effort
// delivery of bodies no larger than MaxMessageSize.
type Transport interface {

	// Listen connects the transport to the substrate and starts delivering
	// presence events and messages.
	Listen() error

	// LocalAddr returns the identity of this end of the transport.
	LocalAddr() peers.JID

	// RegisterHandler installs the PresenceHandler. It can only be called
	// once.
	RegisterHandler(h PresenceHandler) error

	// Consumer returns the channel through which inbound messages are
	// received.
	Consumer() <-chan Message

	// Subscribe asks target for permission to follow its presence.
	Subscribe(target peers.JID) error

	// Approve grants requester permission to follow our presence.
	Approve(requester peers.JID) error

	// Unsubscribe stops following the presence of target.
	Unsubscribe(target peers.JID) error

	// SetPresence announces our availability and a status label to every
	// approved subscriber.
	SetPresence(state PresenceState, status string) error

	// Send delivers body to target.
	Send(target peers.JID, body []byte) error

	// MaxMessageSize is the largest body accepted by Send.
	MaxMessageSize() int

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
