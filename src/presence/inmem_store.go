package presence

import (
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/acol/src/common"
)

// InmemStore implements the Store interface in memory. It keeps every
// snapshot, which is fine for the number of view changes a node goes through.
type InmemStore struct {
	sync.RWMutex
	snapshots map[int]*Snapshot
	last      int
	closed    bool
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		snapshots: make(map[int]*Snapshot),
	}
}

// Save implements the Store interface.
func (s *InmemStore) Save(snapshot *Snapshot) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr("Snapshot", cm.Closed, strconv.Itoa(snapshot.Version))
	}

	cp := *snapshot
	cp.Reachable = append(cp.Reachable[:0:0], snapshot.Reachable...)
	s.snapshots[snapshot.Version] = &cp

	if snapshot.Version > s.last {
		s.last = snapshot.Version
	}

	return nil
}

// Get implements the Store interface.
func (s *InmemStore) Get(version int) (*Snapshot, error) {
	s.RLock()
	defer s.RUnlock()

	snapshot, ok := s.snapshots[version]
	if !ok {
		return nil, cm.NewStoreErr("Snapshot", cm.KeyNotFound, strconv.Itoa(version))
	}

	return snapshot, nil
}

// Last implements the Store interface.
func (s *InmemStore) Last() (*Snapshot, error) {
	s.RLock()
	defer s.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, cm.NewStoreErr("Snapshot", cm.Empty, "")
	}

	return s.snapshots[s.last], nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
