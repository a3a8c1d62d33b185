package node

import (
	"testing"

	"github.com/mosaicnetworks/acol/src/peers"
)

func TestRandomPeerSelector(t *testing.T) {
	ps := NewRandomPeerSelector()

	if _, ok := ps.Next(peers.NewSet()); ok {
		t.Fatalf("there should be nothing to select from an empty set")
	}

	candidates := peers.NewSet("a@test", "b@test", "c@test")
	seen := peers.NewSet()

	for i := 0; i < 300; i++ {
		p, ok := ps.Next(candidates)
		if !ok {
			t.Fatalf("a candidate should be selected")
		}
		if !candidates.Contains(p) {
			t.Fatalf("%s is not a candidate", p)
		}
		seen.Add(p)
	}

	if !seen.Equal(candidates) {
		t.Fatalf("every candidate should eventually be selected, got %v", seen.Slice())
	}
}
