package node

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/peers"
)

//PeerSelector chooses the destination of a node's model among candidates
type PeerSelector interface {
	Next(candidates peers.Set) (peers.JID, bool)
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

//RandomPeerSelector picks a candidate uniformly at random
type RandomPeerSelector struct {
	sync.Mutex
	rnd *rand.Rand
}

//NewRandomPeerSelector is a factory method that returns a new instance of RandomPeerSelector
func NewRandomPeerSelector() *RandomPeerSelector {
	return &RandomPeerSelector{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

//Next returns a random candidate, or false if there are none
func (ps *RandomPeerSelector) Next(candidates peers.Set) (peers.JID, bool) {
	if candidates.Len() == 0 {
		return "", false
	}

	// Sorting makes the choice depend on the random source only
	selectable := candidates.Slice()

	ps.Lock()
	i := ps.rnd.Intn(len(selectable))
	ps.Unlock()

	return selectable[i], true
}
