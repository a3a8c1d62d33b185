package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/acol/src/learning"
	"github.com/mosaicnetworks/acol/src/multipart"
	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
	"github.com/mosaicnetworks/acol/src/telemetry"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Start when the node was already stopped.
var ErrStopped = errors.New("node: stopped")

//Node defines an ACoL agent
type Node struct {
	state

	conf   *Config
	id     peers.JID
	logger *logrus.Entry

	trans net.Transport
	netCh <-chan net.Message

	tracker     *presence.Tracker
	reassembler *multipart.Reassembler
	learner     learning.Learner
	selector    PeerSelector

	controlTimer *ControlTimer

	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh chan struct{}
	runDoneCh  chan struct{}
	doneCh     chan struct{}
	initOnce   sync.Once
	initErr    error
	runOnce    sync.Once
	stopOnce   sync.Once
	running    int32
	stopped    int32

	payload []byte

	start            time.Time
	cycles           int64
	sent             int64
	sendSkipped      int64
	received         int64
	receiveTimeouts  int64
	trainErrors      int64
	abandonedBuffers int64
}

//NewNode is a factory method that returns a Node instance. The node
//communicates through trans, which must not be listening yet, and persists
//its views of the neighbourhood in store.
func NewNode(conf *Config,
	neighbours peers.NeighbourSet,
	store presence.Store,
	trans net.Transport,
	learner learning.Learner,
) *Node {
	id := trans.LocalAddr()
	logger := conf.Logger.WithField("this_id", id)

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:         conf,
		id:           id,
		logger:       logger,
		trans:        trans,
		netCh:        trans.Consumer(),
		tracker:      presence.NewTracker(trans, neighbours, store, logger),
		reassembler:  multipart.NewReassembler(),
		learner:      learner,
		selector:     NewRandomPeerSelector(),
		controlTimer: NewRandomControlTimer(),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		runDoneCh:    make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	node.tracker.SetViewChangedCallback(node.onViewChanged)

	return &node
}

//Init registers the presence handlers, starts listening and announces the
//node as available. It only runs once. If any step fails, the node is
//stopped so that nothing it started keeps running.
func (n *Node) Init() error {
	n.initOnce.Do(func() {
		if atomic.LoadInt32(&n.stopped) == 1 {
			n.initErr = ErrStopped
			return
		}

		if err := n.tracker.Register(); err != nil {
			n.initErr = fmt.Errorf("registering presence handler: %w", err)
			return
		}

		if err := n.trans.Listen(); err != nil {
			n.initErr = fmt.Errorf("listening: %w", err)
			return
		}

		if err := n.tracker.Start(n.conf.Status); err != nil {
			n.initErr = fmt.Errorf("announcing presence: %w", err)
			return
		}

		n.logger.WithField("status", n.conf.Status).Debug("Node created")
	})

	if n.initErr != nil && !errors.Is(n.initErr, ErrStopped) {
		n.Stop()
	}

	return n.initErr
}

//Start initialises the node and runs it in the background.
func (n *Node) Start() error {
	if err := n.Init(); err != nil {
		return err
	}
	n.RunAsync()
	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")
	go n.Run()
}

//Run invokes the main loop of the node. It returns when the node is stopped.
func (n *Node) Run() {
	started := false
	n.runOnce.Do(func() {
		n.start = time.Now()
		started = atomic.CompareAndSwapInt32(&n.running, 0, 1)
	})
	if !started {
		return
	}
	defer close(n.runDoneCh)

	n.goFunc(func() { n.controlTimer.Run(n.conf.TickInterval) })

	//Tick presence and purge stale fragments regardless of the state of the
	//node.
	n.goFunc(n.doBackgroundWork)

	for {
		if err := n.Step(n.ctx); err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.logger.WithError(err).Error("Step")
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case <-n.controlTimer.tickCh:
			n.tracker.Tick()
			n.purge()
			if !n.controlTimer.Reset(n.conf.TickInterval) {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) purge() {
	for _, sender := range n.reassembler.Purge(n.conf.ReassemblyTimeout) {
		atomic.AddInt64(&n.abandonedBuffers, 1)
		telemetry.ReassemblyAbandoned.WithLabelValues(string(n.id)).Inc()
		n.logger.WithField("sender", sender).Warn("Reassembly abandoned")
	}
}

func (n *Node) onViewChanged(snapshot *presence.Snapshot) {
	telemetry.ViewChanges.WithLabelValues(string(n.id)).Inc()
	telemetry.ReachableNeighbours.WithLabelValues(string(n.id)).Set(float64(len(snapshot.Reachable)))
}

//Step runs the action of the current state and moves to the next state. It
//returns an error without changing state if ctx is cancelled.
func (n *Node) Step(ctx context.Context) error {
	current := n.getState()

	n.logger.WithField("state", current.String()).Debug("Step")

	var event Event
	switch current {
	case Setup:
		event = SetupDone
	case Train:
		event = n.train(ctx)
	case Send:
		event = n.send()
	case Receive:
		var err error
		event, err = n.receive(ctx)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown state %d", current)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	next, err := Transition(current, event)
	if err != nil {
		return err
	}

	if current == Receive {
		atomic.AddInt64(&n.cycles, 1)
		telemetry.CyclesTotal.WithLabelValues(string(n.id)).Inc()
	}

	n.setState(next)

	return nil
}

func (n *Node) train(ctx context.Context) Event {
	payload, err := n.learner.TrainStep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			atomic.AddInt64(&n.trainErrors, 1)
			telemetry.TrainErrors.WithLabelValues(string(n.id)).Inc()
			n.logger.WithError(err).Error("Training step failed")
		}
		n.payload = nil
		return Trained
	}

	n.payload = payload
	return Trained
}

//Candidates returns the peers a model can be sent to: the reachable
//neighbours that are not observers.
func (n *Node) Candidates() peers.Set {
	return n.tracker.Reachable().Difference(n.tracker.Neighbours().Observers)
}

func (n *Node) send() Event {
	if n.payload == nil {
		n.logger.Debug("Nothing to send")
		return SendSkipped
	}

	target, ok := n.selector.Next(n.Candidates())
	if !ok {
		atomic.AddInt64(&n.sendSkipped, 1)
		telemetry.SendSkipped.WithLabelValues(string(n.id)).Inc()
		n.logger.Debug("No reachable neighbour")
		return SendSkipped
	}

	if err := n.sendPayload(target, n.payload); err != nil {
		telemetry.SendErrors.WithLabelValues(string(n.id)).Inc()
		n.logger.WithError(err).WithField("target", target).Error("Sending model")
		return Sent
	}

	atomic.AddInt64(&n.sent, 1)

	return Sent
}

func (n *Node) sendPayload(target peers.JID, payload []byte) error {
	fragments, err := multipart.Encode(payload, n.trans.MaxMessageSize())
	if err != nil {
		return err
	}

	if fragments == nil {
		if err := n.trans.Send(target, payload); err != nil {
			return err
		}
		telemetry.MessagesSent.WithLabelValues(string(n.id), "single").Inc()
		n.logger.WithFields(logrus.Fields{
			"target": target,
			"size":   len(payload),
		}).Debug("Sent model")
		return nil
	}

	for i, f := range fragments {
		if err := n.trans.Send(target, f); err != nil {
			return fmt.Errorf("fragment %d/%d: %w", i+1, len(fragments), err)
		}
		telemetry.FragmentsSent.WithLabelValues(string(n.id)).Inc()
	}

	telemetry.MessagesSent.WithLabelValues(string(n.id), "multipart").Inc()

	n.logger.WithFields(logrus.Fields{
		"target":    target,
		"size":      len(payload),
		"fragments": len(fragments),
	}).Debug("Sent model")

	return nil
}

func (n *Node) receive(ctx context.Context) (Event, error) {
	timer := time.NewTimer(n.conf.ReceiveTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-n.netCh:
			payload := n.decode(msg)
			if payload == nil {
				continue
			}

			atomic.AddInt64(&n.received, 1)
			telemetry.PayloadsReceived.WithLabelValues(string(n.id)).Inc()

			n.logger.WithFields(logrus.Fields{
				"from": msg.From,
				"size": len(payload),
			}).Debug("Received model")

			if r, ok := n.learner.(learning.Receiver); ok {
				if err := r.Receive(msg.From, payload); err != nil {
					n.logger.WithError(err).WithField("from", msg.From).Error("Learner rejected model")
				}
			}

			return Received, nil
		case <-timer.C:
			atomic.AddInt64(&n.receiveTimeouts, 1)
			telemetry.ReceiveTimeouts.WithLabelValues(string(n.id)).Inc()
			n.logger.Debug("Nothing received")
			return ReceiveTimeout, nil
		case <-ctx.Done():
			return ReceiveTimeout, ctx.Err()
		}
	}
}

//decode returns the payload carried by msg, or nil if msg is a fragment of a
//payload that is not complete yet.
func (n *Node) decode(msg net.Message) []byte {
	if !multipart.IsMultipart(msg.Body) {
		return msg.Body
	}

	payload, err := n.reassembler.Decode(msg.From, msg.Body)
	if err != nil {
		telemetry.MalformedFragments.WithLabelValues(string(n.id)).Inc()
		n.logger.WithError(err).WithField("from", msg.From).Warn("Dropping fragment")
		return nil
	}

	return payload
}

//Stop stops the node. It can be called in any state and any number of
//times. In-flight work is cancelled, presence is withdrawn, and the transport
//and store are closed. It always runs to completion.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.logger.Debug("Stop")

		atomic.StoreInt32(&n.stopped, 1)

		//Prevent a run loop from starting after this point
		n.runOnce.Do(func() {})

		n.cancel()
		close(n.shutdownCh)

		if atomic.LoadInt32(&n.running) == 1 {
			<-n.runDoneCh
		}

		n.controlTimer.Shutdown()

		n.waitRoutines()

		n.tracker.Withdraw()

		//transport and store should only be closed once all concurrent
		//operations are finished
		if err := n.trans.Close(); err != nil {
			n.logger.WithError(err).Error("Closing transport")
		}

		if err := n.tracker.Store().Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}

		close(n.doneCh)
	})

	<-n.doneCh

	return nil
}

//Done returns a channel that is closed once the node is fully stopped
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

//ID returns the JID of the node
func (n *Node) ID() peers.JID {
	return n.id
}

//GetState returns the current coordination state
func (n *Node) GetState() State {
	return n.getState()
}

//GetPeers returns the presence records of the node
func (n *Node) GetPeers() []presence.Record {
	return n.tracker.Records()
}

//Tracker returns the presence tracker of the node
func (n *Node) Tracker() *presence.Tracker {
	return n.tracker
}

//GetStats returns counters describing the activity of the node
func (n *Node) GetStats() map[string]string {
	load := func(i *int64) string {
		return strconv.FormatInt(atomic.LoadInt64(i), 10)
	}

	var uptime time.Duration
	if atomic.LoadInt32(&n.running) == 1 {
		uptime = time.Since(n.start).Truncate(time.Millisecond)
	}

	state := n.getState().String()
	if atomic.LoadInt32(&n.stopped) == 1 {
		state = "Stopped"
	}

	s := map[string]string{
		"id":                 string(n.id),
		"state":              state,
		"cycles":             load(&n.cycles),
		"reachable":          strconv.Itoa(n.tracker.Reachable().Len()),
		"sent":               load(&n.sent),
		"send_skipped":       load(&n.sendSkipped),
		"received":           load(&n.received),
		"receive_timeouts":   load(&n.receiveTimeouts),
		"train_errors":       load(&n.trainErrors),
		"pending_reassembly": strconv.Itoa(n.reassembler.Pending()),
		"abandoned_buffers":  load(&n.abandonedBuffers),
		"uptime":             uptime.String(),
	}
	return s
}
