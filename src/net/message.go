package net

import "github.com/mosaicnetworks/acol/src/peers"

// Message is a body received from another node.
type Message struct {
	From peers.JID
	Body []byte
}
