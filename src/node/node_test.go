package node

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/learning"
	"github.com/mosaicnetworks/acol/src/multipart"
	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
)

// staticLearner always produces the same payload and records what it
// receives.
type staticLearner struct {
	sync.Mutex
	payload  []byte
	fail     bool
	received map[peers.JID][][]byte
}

func newStaticLearner(payload []byte) *staticLearner {
	return &staticLearner{
		payload:  payload,
		received: make(map[peers.JID][][]byte),
	}
}

func (l *staticLearner) TrainStep(ctx context.Context) ([]byte, error) {
	if l.fail {
		return nil, errors.New("training failed")
	}
	return l.payload, nil
}

func (l *staticLearner) Receive(from peers.JID, payload []byte) error {
	l.Lock()
	defer l.Unlock()
	l.received[from] = append(l.received[from], payload)
	return nil
}

func (l *staticLearner) receivedFrom(from peers.JID) [][]byte {
	l.Lock()
	defer l.Unlock()
	return l.received[from]
}

func newTestNode(t *testing.T, hub *net.Hub, id peers.JID, maxSize int, learner learning.Learner, neighbours peers.NeighbourSet) *Node {
	trans := net.NewInmemTransport(hub, id, maxSize, common.NewTestEntry(t, string(id)))
	return NewNode(TestConfig(t), neighbours, presence.NewInmemStore(), trans, learner)
}

// unannouncedTransport refuses to announce availability.
type unannouncedTransport struct {
	net.Transport
}

func (t *unannouncedTransport) SetPresence(state net.PresenceState, status string) error {
	if state == net.Available {
		return errors.New("publish failed")
	}
	return t.Transport.SetPresence(state, status)
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %s", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNodeCycle(t *testing.T) {
	hub := net.NewHub()

	ids := []peers.JID{"node0@test", "node1@test", "node2@test"}

	nodes := make([]*Node, len(ids))
	learners := make([]*learning.DummyLearner, len(ids))
	for i, id := range ids {
		_, others := peers.ExcludePeer(ids, id)
		learners[i] = learning.NewDummyLearner(id, 500, 0, common.NewTestEntry(t, string(id)))
		// Models are about 4.5KB, so they travel in fragments
		nodes[i] = newTestNode(t, hub, id, 1024, learners[i], peers.NewNeighbourSet(others, nil))
	}

	for _, n := range nodes {
		if err := n.Start(); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 10*time.Second, "every node should merge a model", func() bool {
		for _, l := range learners {
			if l.Model().Merged == 0 {
				return false
			}
		}
		return true
	})

	for _, n := range nodes {
		if err := n.Stop(); err != nil {
			t.Fatal(err)
		}

		select {
		case <-n.Done():
		default:
			t.Fatalf("%s: Done should be closed after Stop", n.ID())
		}

		stats := n.GetStats()
		if stats["state"] != "Stopped" {
			t.Fatalf("%s: state should be Stopped, not %s", n.ID(), stats["state"])
		}

		if cycles, _ := strconv.Atoi(stats["cycles"]); cycles == 0 {
			t.Fatalf("%s: at least one cycle should have completed", n.ID())
		}
	}

	if l := len(hub.Connected()); l != 0 {
		t.Fatalf("every transport should be disconnected, %d left", l)
	}
}

func TestNodeStep(t *testing.T) {
	hub := net.NewHub()

	payload := bytes.Repeat([]byte("model"), 100)

	sender := newTestNode(t, hub, "sender@test", 128, newStaticLearner(payload),
		peers.NewNeighbourSet([]peers.JID{"receiver@test"}, nil))
	receiverLearner := newStaticLearner(nil)
	receiver := newTestNode(t, hub, "receiver@test", 128, receiverLearner,
		peers.NewNeighbourSet([]peers.JID{"sender@test"}, nil))

	for _, n := range []*Node{sender, receiver} {
		if err := n.Init(); err != nil {
			t.Fatal(err)
		}
	}
	defer sender.Stop()
	defer receiver.Stop()

	waitFor(t, 3*time.Second, "sender should see receiver", func() bool {
		sender.tracker.Tick()
		return sender.Candidates().Contains("receiver@test")
	})

	ctx := context.Background()

	expectedStates := []State{Train, Send, Receive}
	for _, s := range expectedStates {
		if err := sender.Step(ctx); err != nil {
			t.Fatal(err)
		}
		if sender.GetState() != s {
			t.Fatalf("sender should be in %s, not %s", s, sender.GetState())
		}
	}

	receiver.setState(Receive)
	if err := receiver.Step(ctx); err != nil {
		t.Fatal(err)
	}

	if receiver.GetState() != Train {
		t.Fatalf("receiver should be in Train, not %s", receiver.GetState())
	}

	received := receiverLearner.receivedFrom("sender@test")
	if len(received) != 1 || !bytes.Equal(received[0], payload) {
		t.Fatalf("receiver should have received the payload once, got %d payloads", len(received))
	}

	if receiver.GetStats()["received"] != "1" {
		t.Fatalf("receiver stats should count 1 payload")
	}
}

func TestNodeSendExcludesObservers(t *testing.T) {
	hub := net.NewHub()

	n := newTestNode(t, hub, "agent@test", 0, newStaticLearner([]byte("model")),
		peers.NewNeighbourSet(nil, []peers.JID{"launcher@test"}))
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}
	defer n.Stop()

	n.tracker.OnAvailable("launcher@test", "READY2CONS")

	if !n.tracker.Reachable().Contains("launcher@test") {
		t.Fatalf("launcher should be reachable")
	}

	if n.Candidates().Len() != 0 {
		t.Fatalf("observers should never be candidates")
	}

	ctx := context.Background()
	n.setState(Train)
	n.Step(ctx)
	n.Step(ctx)

	if n.GetState() != Receive {
		t.Fatalf("node should be in Receive, not %s", n.GetState())
	}

	if n.GetStats()["send_skipped"] != "1" {
		t.Fatalf("send should have been skipped")
	}
}

func TestNodeTrainFailureAdvances(t *testing.T) {
	hub := net.NewHub()

	learner := newStaticLearner(nil)
	learner.fail = true

	n := newTestNode(t, hub, "agent@test", 0, learner, peers.NewNeighbourSet(nil, nil))
	defer n.Stop()

	ctx := context.Background()
	n.setState(Train)

	if err := n.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if n.GetState() != Send {
		t.Fatalf("failed training should still lead to Send, not %s", n.GetState())
	}

	if err := n.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if n.GetState() != Receive {
		t.Fatalf("node should be in Receive, not %s", n.GetState())
	}

	if n.GetStats()["train_errors"] != "1" {
		t.Fatalf("training error should be counted")
	}
}

func TestNodeReceive(t *testing.T) {
	hub := net.NewHub()

	learner := newStaticLearner(nil)
	n := newTestNode(t, hub, "agent@test", 0, learner, peers.NewNeighbourSet(nil, nil))
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}
	defer n.Stop()

	peer := net.NewInmemTransport(hub, "peer@test", 0, common.NewTestEntry(t, "peer"))
	if err := peer.Listen(); err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	ctx := context.Background()

	// Nothing to receive
	n.setState(Receive)
	if err := n.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if n.GetStats()["receive_timeouts"] != "1" {
		t.Fatalf("receive timeout should be counted")
	}

	// A malformed fragment and an incomplete payload are skipped
	fragments, err := multipart.Encode(bytes.Repeat([]byte("x"), 100), 50)
	if err != nil {
		t.Fatal(err)
	}
	peer.Send("agent@test", []byte("multipart#oops|"))
	peer.Send("agent@test", fragments[0])
	peer.Send("agent@test", []byte("plain"))

	n.setState(Receive)
	if err := n.Step(ctx); err != nil {
		t.Fatal(err)
	}

	received := learner.receivedFrom("peer@test")
	if len(received) != 1 || string(received[0]) != "plain" {
		t.Fatalf("only the plain body should be received, got %q", received)
	}

	if n.GetStats()["pending_reassembly"] != "1" {
		t.Fatalf("the incomplete payload should be pending")
	}
}

func TestNodeReceiveCancelled(t *testing.T) {
	hub := net.NewHub()

	n := newTestNode(t, hub, "agent@test", 0, newStaticLearner(nil), peers.NewNeighbourSet(nil, nil))
	n.conf.ReceiveTimeout = time.Hour
	defer n.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n.setState(Receive)
	if err := n.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if n.GetState() != Receive {
		t.Fatalf("a cancelled step should not change the state")
	}
}

func TestNodeStop(t *testing.T) {
	hub := net.NewHub()

	// Stop before Start
	idle := newTestNode(t, hub, "idle@test", 0, newStaticLearner(nil), peers.NewNeighbourSet(nil, nil))
	if err := idle.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := idle.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := idle.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}

	// Stopping a running node withdraws its presence
	a := newTestNode(t, hub, "a@test", 0, newStaticLearner([]byte("a")),
		peers.NewNeighbourSet([]peers.JID{"b@test"}, nil))
	b := newTestNode(t, hub, "b@test", 0, newStaticLearner([]byte("b")),
		peers.NewNeighbourSet([]peers.JID{"a@test"}, nil))

	for _, n := range []*Node{a, b} {
		if err := n.Start(); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 5*time.Second, "b should see a", func() bool {
		return b.tracker.Reachable().Contains("a@test")
	})

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	// Concurrent Stops all return once the node is stopped
	a.Stop()
	<-done

	waitFor(t, 5*time.Second, "a should become unreachable", func() bool {
		return !b.tracker.Reachable().Contains("a@test")
	})

	b.Stop()
}

func TestNodeStopWaitsForRoutines(t *testing.T) {
	hub := net.NewHub()

	n := newTestNode(t, hub, "a@test", 0, newStaticLearner(nil), peers.NewNeighbourSet(nil, nil))
	if err := n.Start(); err != nil {
		t.Fatal(err)
	}

	// background work and control timer
	waitFor(t, 5*time.Second, "background routines should start", func() bool {
		return atomic.LoadInt32(&n.wgCount) == 2
	})

	n.Stop()

	if c := atomic.LoadInt32(&n.wgCount); c != 0 {
		t.Fatalf("%d routines still running after Stop", c)
	}

	if n.controlTimer.Reset(time.Millisecond) {
		t.Fatalf("the control timer should be shut down")
	}
}

func TestNodeFailedStartReleasesTransport(t *testing.T) {
	hub := net.NewHub()

	trans := &unannouncedTransport{
		Transport: net.NewInmemTransport(hub, "bad@test", 0, common.NewTestEntry(t, "bad@test")),
	}
	bad := NewNode(TestConfig(t), peers.NewNeighbourSet(nil, nil), presence.NewInmemStore(), trans, newStaticLearner(nil))

	if err := bad.Start(); err == nil {
		t.Fatalf("Start should fail when presence cannot be announced")
	}

	select {
	case <-bad.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("a node that failed to start should be stopped")
	}

	if l := len(hub.Connected()); l != 0 {
		t.Fatalf("the transport should be disconnected, got %v", hub.Connected())
	}

	sender := net.NewInmemTransport(hub, "sender@test", 0, common.NewTestEntry(t, "sender@test"))
	if err := sender.Listen(); err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	if err := sender.Send("bad@test", []byte("model")); err == nil {
		t.Fatalf("nothing should be delivered to a node that failed to start")
	}

	if err := bad.Start(); err == nil {
		t.Fatalf("a failed node should not start on a second attempt")
	}
}

func TestNodeStats(t *testing.T) {
	hub := net.NewHub()

	n := newTestNode(t, hub, "agent@test", 0, newStaticLearner(nil), peers.NewNeighbourSet(nil, nil))
	defer n.Stop()

	stats := n.GetStats()
	for _, key := range []string{"id", "state", "cycles", "reachable", "sent", "received", "pending_reassembly"} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("stats should contain %s", key)
		}
	}

	if stats["id"] != "agent@test" || stats["state"] != Setup.String() {
		t.Fatalf("unexpected stats %v", stats)
	}
}
