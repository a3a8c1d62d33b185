package presence

// Store persists the successive snapshots of a node's reachable neighbours.
type Store interface {
	// Save stores a snapshot. It becomes the last snapshot if its version is
	// greater than the current last one.
	Save(*Snapshot) error
	// Get returns the snapshot with the given version.
	Get(version int) (*Snapshot, error)
	// Last returns the most recent snapshot.
	Last() (*Snapshot, error)
	// Close closes the underlying database.
	Close() error
}
