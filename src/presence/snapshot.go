package presence

import (
	"bytes"
	"time"

	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/ugorji/go/codec"
)

// Record is what a node knows about one peer's presence.
type Record struct {
	ID                   peers.JID
	Reachable            bool
	SubscriptionApproved bool
	Status               string
	Updated              time.Time
}

// Snapshot is a persisted view of the reachable neighbours of a node.
// Versions start at 1 and increase with every view change.
type Snapshot struct {
	Owner     peers.JID
	Version   int
	Reachable []peers.JID
	Time      time.Time
}

// Marshal returns the JSON encoding of the snapshot.
func (s *Snapshot) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(s); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal parses a JSON encoded snapshot.
func (s *Snapshot) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(s)
}
