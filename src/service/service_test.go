package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/fleet"
	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
)

type testAgent struct {
	id       peers.JID
	hang     chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newTestAgent(id peers.JID) *testAgent {
	return &testAgent{id: id, doneCh: make(chan struct{})}
}

func (a *testAgent) ID() peers.JID { return a.id }

func (a *testAgent) Start() error { return nil }

func (a *testAgent) Stop() error {
	if a.hang != nil {
		<-a.hang
	}
	a.stopOnce.Do(func() { close(a.doneCh) })
	return nil
}

func (a *testAgent) Done() <-chan struct{} { return a.doneCh }

func (a *testAgent) GetStats() map[string]string {
	return map[string]string{"id": string(a.id), "state": "Train"}
}

func (a *testAgent) GetPeers() []presence.Record {
	return []presence.Record{{ID: "other@test", Reachable: true}}
}

func newTestService(t *testing.T, agents ...fleet.Agent) (*Service, *fleet.Launcher) {
	logger := common.NewTestEntry(t, "service")

	launcher := fleet.NewLauncher("launcher@test", agents, logger)
	if _, err := launcher.LaunchAll(); err != nil {
		t.Fatal(err)
	}

	return NewService("", launcher, logger), launcher
}

func get(t *testing.T, s *Service, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetStats(t *testing.T) {
	s, _ := newTestService(t, newTestAgent("a@test"), newTestAgent("b@test"))

	rec := get(t, s, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d", rec.Code)
	}

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS header should be set")
	}

	var stats map[string]map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}

	if len(stats) != 2 {
		t.Fatalf("stats should have 2 entries, not %d", len(stats))
	}

	if stats["a@test"]["state"] != "Train" {
		t.Fatalf("unexpected stats for a@test: %v", stats["a@test"])
	}
}

func TestGetPeers(t *testing.T) {
	s, _ := newTestService(t, newTestAgent("a@test"))

	// Without presence the launcher has no records
	rec := get(t, s, "/peers")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected an empty list, got %s", rec.Body.String())
	}

	rec = get(t, s, "/peers/a@test")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d", rec.Code)
	}

	var records []presence.Record
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 || records[0].ID != "other@test" || !records[0].Reachable {
		t.Fatalf("unexpected records: %v", records)
	}

	rec = get(t, s, "/peers/nobody@test")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status should be 404, not %d", rec.Code)
	}
}

func TestGetPeersWithPresence(t *testing.T) {
	hub := net.NewHub()
	logger := common.NewTestEntry(t, "service")

	trans := net.NewInmemTransport(hub, "launcher@test", 0, logger)
	launcher := fleet.NewLauncher("launcher@test", []fleet.Agent{newTestAgent("a@test")}, logger).
		WithPresence(trans, presence.NewInmemStore(), time.Hour)
	defer launcher.Shutdown()

	launcher.LaunchAll()

	s := NewService("", launcher, logger)

	// a@test has no transport, so it never announced itself
	rec := get(t, s, "/peers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d", rec.Code)
	}

	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected an empty list, got %s", rec.Body.String())
	}
}

func TestStopAgents(t *testing.T) {
	a := newTestAgent("a@test")
	s, launcher := newTestService(t, a)

	rec := get(t, s, "/stopagents")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d: %s", rec.Code, rec.Body.String())
	}

	if launcher.AnyAlive() {
		t.Fatalf("agents should be stopped")
	}

	select {
	case <-s.ShutdownCh():
		t.Fatalf("/stopagents should not shut the launcher down")
	default:
	}
}

func TestStopAllAgents(t *testing.T) {
	s, _ := newTestService(t, newTestAgent("a@test"))

	rec := get(t, s, "/stopallagents")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d", rec.Code)
	}

	select {
	case <-s.ShutdownCh():
	default:
		t.Fatalf("/stopallagents should close the shutdown channel")
	}

	// Calling it again must not panic
	get(t, s, "/stopallagents")
}

func TestStopAgentsTimeout(t *testing.T) {
	a := newTestAgent("a@test")
	a.hang = make(chan struct{})
	defer close(a.hang)

	s, _ := newTestService(t, a)
	s.SetStopTimeout(50 * time.Millisecond)

	rec := get(t, s, "/stopagents")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status should be 500, not %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "a@test") {
		t.Fatalf("error should name the orphaned agent: %s", rec.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestService(t, newTestAgent("a@test"))

	get(t, s, "/stats")

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status should be 200, not %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "acol_requests_total") {
		t.Fatalf("metrics should include the request counter")
	}
}
