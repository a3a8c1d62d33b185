package peers

// NeighbourSet is the per-node view of the peers it knows about at startup.
// StarterNeighbours are the peers a node trains with and proactively
// subscribes to. Observers are peers, like the launcher, that monitor the node
// but never receive models from it.
type NeighbourSet struct {
	StarterNeighbours Set
	Observers         Set
}

// NewNeighbourSet creates a NeighbourSet from lists of JIDs, discarding
// duplicates.
func NewNeighbourSet(starters []JID, observers []JID) NeighbourSet {
	return NeighbourSet{
		StarterNeighbours: NewSet(starters...),
		Observers:         NewSet(observers...),
	}
}

// All returns the union of the starter neighbours and the observers.
func (n NeighbourSet) All() Set {
	return n.StarterNeighbours.Union(n.Observers)
}

// IsObserver reports whether id is configured as an observer.
func (n NeighbourSet) IsObserver(id JID) bool {
	return n.Observers.Contains(id)
}

// ExcludePeer is used to exclude a single JID from a list of JIDs. It returns
// the index of the excluded JID, or -1, and the remaining JIDs.
func ExcludePeer(ids []JID, id JID) (int, []JID) {
	index := -1
	others := make([]JID, 0, len(ids))
	for i, p := range ids {
		if p != id {
			others = append(others, p)
		} else {
			index = i
		}
	}
	return index, others
}
