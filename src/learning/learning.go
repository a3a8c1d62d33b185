// Package learning defines the boundary between a node and the learning
// algorithm it runs, and provides a dummy learner that exchanges synthetic
// models.
package learning

import (
	"context"

	"github.com/mosaicnetworks/acol/src/peers"
)

// Learner runs one local training step and returns the resulting model as an
// opaque payload, ready to be sent to a neighbour.
type Learner interface {
	TrainStep(ctx context.Context) ([]byte, error)
}

// Receiver is implemented by learners that consume the models sent by their
// neighbours.
type Receiver interface {
	Receive(from peers.JID, payload []byte) error
}
