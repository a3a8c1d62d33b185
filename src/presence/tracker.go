package presence

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/sirupsen/logrus"
)

// Tracker maintains the presence records of a node's neighbours. It
// implements the net.PresenceHandler interface and must be registered with
// the node's transport before the transport starts listening.
//
// The handlers are called from the transport's dispatch goroutine while the
// node reads the reachable set from its own, so records are guarded by a
// mutex.
type Tracker struct {
	sync.RWMutex

	id         peers.JID
	neighbours peers.NeighbourSet
	trans      net.Transport
	store      Store

	records  map[peers.JID]*Record
	lastView peers.Set
	version  int

	onViewChanged func(*Snapshot)

	logger *logrus.Entry
}

// NewTracker creates a Tracker for the node behind trans. A nil store
// defaults to an InmemStore.
func NewTracker(trans net.Transport, neighbours peers.NeighbourSet, store Store, logger *logrus.Entry) *Tracker {
	if store == nil {
		store = NewInmemStore()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Tracker{
		id:         trans.LocalAddr(),
		neighbours: neighbours,
		trans:      trans,
		store:      store,
		records:    make(map[peers.JID]*Record),
		lastView:   peers.NewSet(),
		logger:     logger.WithField("component", "presence"),
	}
}

// Register registers the tracker as the transport's presence handler.
func (t *Tracker) Register() error {
	return t.trans.RegisterHandler(t)
}

// SetViewChangedCallback sets a function called with every new snapshot. It
// must be set before the first Tick.
func (t *Tracker) SetViewChangedCallback(f func(*Snapshot)) {
	t.onViewChanged = f
}

// Neighbours returns the configured neighbours.
func (t *Tracker) Neighbours() peers.NeighbourSet {
	return t.neighbours
}

// Store returns the snapshot store.
func (t *Tracker) Store() Store {
	return t.store
}

// Start announces this node as available with the given status.
func (t *Tracker) Start(status string) error {
	return t.trans.SetPresence(net.Available, status)
}

// Withdraw announces this node as unavailable and unsubscribes from every
// reachable neighbour. Errors are logged and do not interrupt the sequence.
func (t *Tracker) Withdraw() {
	if err := t.trans.SetPresence(net.Unavailable, ""); err != nil {
		t.logger.WithError(err).Debug("Withdrawing presence")
	}

	for _, id := range t.Reachable().Slice() {
		if err := t.trans.Unsubscribe(id); err != nil {
			t.logger.WithError(err).WithField("peer", id).Debug("Unsubscribing")
		}
	}
}

// Reachable returns the neighbours whose last presence event was available.
func (t *Tracker) Reachable() peers.Set {
	t.RLock()
	defer t.RUnlock()
	return t.reachable()
}

func (t *Tracker) reachable() peers.Set {
	res := peers.NewSet()
	for id := range t.neighbours.All() {
		if r, ok := t.records[id]; ok && r.Reachable {
			res.Add(id)
		}
	}
	return res
}

// Unreachable returns the neighbours, starters and observers, that are not
// reachable.
func (t *Tracker) Unreachable() peers.Set {
	return t.neighbours.All().Difference(t.Reachable())
}

// Records returns a copy of all the presence records, including those of
// peers that are not neighbours.
func (t *Tracker) Records() []Record {
	t.RLock()
	defer t.RUnlock()

	ids := peers.NewSet()
	for id := range t.records {
		ids.Add(id)
	}

	res := make([]Record, 0, len(t.records))
	for _, id := range ids.Slice() {
		res = append(res, *t.records[id])
	}
	return res
}

// Tick subscribes to every unreachable neighbour and recomputes the
// reachable set. If it changed since the previous Tick, the new view is
// persisted and Tick returns true.
func (t *Tracker) Tick() bool {
	for _, id := range t.Unreachable().Slice() {
		if err := t.trans.Subscribe(id); err != nil {
			t.logger.WithError(err).WithField("peer", id).Debug("Subscribing")
		}
	}

	t.Lock()
	current := t.reachable()
	if t.lastView.SymmetricDifference(current).Len() == 0 {
		t.Unlock()
		return false
	}
	t.version++
	snapshot := &Snapshot{
		Owner:     t.id,
		Version:   t.version,
		Reachable: current.Slice(),
		Time:      time.Now().UTC(),
	}
	t.lastView = current
	t.Unlock()

	t.logger.WithFields(logrus.Fields{
		"version":   snapshot.Version,
		"reachable": snapshot.Reachable,
	}).Info("View changed")

	if err := t.store.Save(snapshot); err != nil {
		t.logger.WithError(err).Error("Saving snapshot")
	}

	if t.onViewChanged != nil {
		t.onViewChanged(snapshot)
	}

	return true
}

func (t *Tracker) record(id peers.JID) *Record {
	r, ok := t.records[id]
	if !ok {
		r = &Record{ID: id}
		t.records[id] = r
	}
	return r
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//Implement the net.PresenceHandler interface

// OnAvailable implements the net.PresenceHandler interface.
func (t *Tracker) OnAvailable(from peers.JID, status string) {
	t.Lock()
	r := t.record(from)
	r.Reachable = true
	r.Status = status
	r.Updated = time.Now()
	t.Unlock()

	t.logger.WithFields(logrus.Fields{
		"peer":   from,
		"status": status,
	}).Debug("Available")
}

// OnUnavailable implements the net.PresenceHandler interface.
func (t *Tracker) OnUnavailable(from peers.JID) {
	t.Lock()
	r := t.record(from)
	r.Reachable = false
	r.Status = ""
	r.Updated = time.Now()
	t.Unlock()

	t.logger.WithField("peer", from).Debug("Unavailable")
}

// OnSubscribeRequest implements the net.PresenceHandler interface. Every
// request is approved.
func (t *Tracker) OnSubscribeRequest(from peers.JID) {
	if err := t.trans.Approve(from); err != nil {
		t.logger.WithError(err).WithField("peer", from).Error("Approving subscription")
		return
	}
	t.logger.WithField("peer", from).Debug("Approved subscription")
}

// OnSubscribeAccepted implements the net.PresenceHandler interface. It does
// not affect reachability.
func (t *Tracker) OnSubscribeAccepted(from peers.JID) {
	t.Lock()
	r := t.record(from)
	r.SubscriptionApproved = true
	r.Updated = time.Now()
	t.Unlock()

	t.logger.WithField("peer", from).Debug("Subscription accepted")
}
