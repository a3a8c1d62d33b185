// Package net implements the transports through which agents exchange
// presence and messages.
//
// A Transport gives a node an address (its JID), a presence it can publish to
// approved subscribers, and an inbox for bounded-size messages. Presence
// notifications are delivered to a single PresenceHandler from one goroutine
// per transport, so handlers may call back into any transport without risk of
// deadlock. There are two implementations:
//
// - Inmem: transports attached to a shared Hub, used to run a whole fleet in
// one process and in tests.
//
// - WAMP: transports connected to a WAMP router, either in-process or over
// WebSockets. Each node registers an inbox procedure and a presence procedure,
// and publishes its availability on a dedicated topic.
//
// Transports do not fragment messages. Payloads larger than MaxMessageSize
// are rejected with ErrMessageTooLarge and must be split by the caller (cf
// the multipart package).
package net
