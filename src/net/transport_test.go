package net

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/peers"
)

const (
	INMEM = iota
	WAMP
	numTestTransports // NOTE: must be last
)

type testFabric struct {
	hub    *Hub
	router *Router
}

func newTestFabric(t *testing.T) *testFabric {
	r, err := NewRouter("", "test", common.NewTestEntry(t, "router"))
	if err != nil {
		t.Fatal(err)
	}
	return &testFabric{hub: NewHub(), router: r}
}

func (f *testFabric) close() {
	f.router.Shutdown()
}

func (f *testFabric) transport(ttype int, addr peers.JID, maxSize int, t *testing.T) Transport {
	var trans Transport
	switch ttype {
	case INMEM:
		trans = NewInmemTransport(f.hub, addr, maxSize, common.NewTestEntry(t, string(addr)))
	case WAMP:
		trans = NewLocalWampTransport(f.router, addr, maxSize, time.Second, common.NewTestEntry(t, string(addr)))
	default:
		panic("Unknown transport type")
	}
	return trans
}

type record struct {
	kind   string
	from   peers.JID
	status string
}

// recorder is a PresenceHandler that accepts every subscription request.
type recorder struct {
	sync.Mutex
	trans   Transport
	records []record
	eventCh chan record
}

func newRecorder(trans Transport) *recorder {
	return &recorder{
		trans:   trans,
		eventCh: make(chan record, 64),
	}
}

func (r *recorder) add(rec record) {
	r.Lock()
	r.records = append(r.records, rec)
	r.Unlock()
	r.eventCh <- rec
}

func (r *recorder) OnAvailable(from peers.JID, status string) {
	r.add(record{"available", from, status})
}

func (r *recorder) OnUnavailable(from peers.JID) {
	r.add(record{"unavailable", from, ""})
}

func (r *recorder) OnSubscribeRequest(from peers.JID) {
	r.add(record{"request", from, ""})
	r.trans.Approve(from)
}

func (r *recorder) OnSubscribeAccepted(from peers.JID) {
	r.add(record{"accepted", from, ""})
}

func (r *recorder) wait(kind string, from peers.JID, t *testing.T) record {
	timeout := time.After(3 * time.Second)
	for {
		select {
		case rec := <-r.eventCh:
			if rec.kind == kind && rec.from == from {
				return rec
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s from %s", kind, from)
		}
	}
}

func listen(trans Transport, t *testing.T) *recorder {
	rec := newRecorder(trans)
	if err := trans.RegisterHandler(rec); err != nil {
		t.Fatal(err)
	}
	if err := trans.Listen(); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestTransport_StartStop(t *testing.T) {
	fabric := newTestFabric(t)
	defer fabric.close()

	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := fabric.transport(ttype, peers.JID(fmt.Sprintf("start%d@test", ttype)), 0, t)
		listen(trans, t)
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
		// Close is idempotent
		if err := trans.Close(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
}

func TestTransport_RegisterHandlerTwice(t *testing.T) {
	fabric := newTestFabric(t)
	defer fabric.close()

	for ttype := 0; ttype < numTestTransports; ttype++ {
		trans := fabric.transport(ttype, peers.JID(fmt.Sprintf("twice%d@test", ttype)), 0, t)
		listen(trans, t)
		if err := trans.RegisterHandler(newRecorder(trans)); !errors.Is(err, ErrHandlerRegistered) {
			t.Fatalf("transport %d: expected ErrHandlerRegistered, got %v", ttype, err)
		}
		trans.Close()
	}
}

func TestTransport_Presence(t *testing.T) {
	fabric := newTestFabric(t)
	defer fabric.close()

	for ttype := 0; ttype < numTestTransports; ttype++ {
		a := peers.JID(fmt.Sprintf("alice%d@test", ttype))
		b := peers.JID(fmt.Sprintf("bob%d@test", ttype))

		transA := fabric.transport(ttype, a, 0, t)
		transB := fabric.transport(ttype, b, 0, t)
		recA := listen(transA, t)
		recB := listen(transB, t)

		if err := transB.SetPresence(Available, "READY_DUMMY"); err != nil {
			t.Fatal(err)
		}

		if err := transA.Subscribe(b); err != nil {
			t.Fatal(err)
		}

		recB.wait("request", a, t)
		recA.wait("accepted", b, t)

		rec := recA.wait("available", b, t)
		if rec.status != "READY_DUMMY" {
			t.Fatalf("transport %d: status should be READY_DUMMY, not %q", ttype, rec.status)
		}

		if err := transB.Close(); err != nil {
			t.Fatal(err)
		}

		recA.wait("unavailable", b, t)

		transA.Close()
	}
}

func TestTransport_Unsubscribe(t *testing.T) {
	fabric := newTestFabric(t)
	defer fabric.close()

	for ttype := 0; ttype < numTestTransports; ttype++ {
		a := peers.JID(fmt.Sprintf("carol%d@test", ttype))
		b := peers.JID(fmt.Sprintf("dave%d@test", ttype))

		transA := fabric.transport(ttype, a, 0, t)
		transB := fabric.transport(ttype, b, 0, t)
		recA := listen(transA, t)
		listen(transB, t)

		transA.Subscribe(b)
		recA.wait("accepted", b, t)

		if err := transA.Unsubscribe(b); err != nil {
			t.Fatal(err)
		}
		recA.wait("unavailable", b, t)

		transA.Close()
		transB.Close()
	}
}

func TestTransport_Send(t *testing.T) {
	fabric := newTestFabric(t)
	defer fabric.close()

	for ttype := 0; ttype < numTestTransports; ttype++ {
		a := peers.JID(fmt.Sprintf("erin%d@test", ttype))
		b := peers.JID(fmt.Sprintf("frank%d@test", ttype))

		transA := fabric.transport(ttype, a, 16, t)
		transB := fabric.transport(ttype, b, 16, t)
		listen(transA, t)
		listen(transB, t)

		body := []byte("hello frank")
		if err := transA.Send(b, body); err != nil {
			t.Fatalf("transport %d: %v", ttype, err)
		}

		select {
		case msg := <-transB.Consumer():
			if msg.From != a {
				t.Fatalf("transport %d: message should come from %s, not %s", ttype, a, msg.From)
			}
			if !bytes.Equal(msg.Body, body) {
				t.Fatalf("transport %d: body should be %q, not %q", ttype, body, msg.Body)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("transport %d: timeout", ttype)
		}

		big := bytes.Repeat([]byte("x"), 17)
		if err := transA.Send(b, big); !errors.Is(err, ErrMessageTooLarge) {
			t.Fatalf("transport %d: expected ErrMessageTooLarge, got %v", ttype, err)
		}

		if err := transA.Send("nobody@test", body); !errors.Is(err, ErrUnknownPeer) {
			t.Fatalf("transport %d: expected ErrUnknownPeer, got %v", ttype, err)
		}

		transA.Close()
		transB.Close()

		if err := transA.Send(b, body); err == nil {
			t.Fatalf("transport %d: sending on a closed transport should fail", ttype)
		}
	}
}

func TestHub_Connected(t *testing.T) {
	hub := NewHub()

	transA := NewInmemTransport(hub, "b@test", 0, common.NewTestEntry(t, "b"))
	transB := NewInmemTransport(hub, "a@test", 0, common.NewTestEntry(t, "a"))
	transA.Listen()
	transB.Listen()

	connected := hub.Connected()
	expected := []peers.JID{"a@test", "b@test"}
	if len(connected) != 2 || connected[0] != expected[0] || connected[1] != expected[1] {
		t.Fatalf("connected should be %v, not %v", expected, connected)
	}

	transA.Close()

	if l := len(hub.Connected()); l != 1 {
		t.Fatalf("there should be 1 connected transport, not %d", l)
	}

	transB.Close()
}
