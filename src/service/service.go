package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/fleet"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
	"github.com/mosaicnetworks/acol/src/telemetry"
	"github.com/sirupsen/logrus"
)

// DefaultStopTimeout bounds the time the stop endpoints wait for the fleet.
const DefaultStopTimeout = 30 * time.Second

type statsProvider interface {
	GetStats() map[string]string
}

type peersProvider interface {
	GetPeers() []presence.Record
}

// Service exposes the control surface of a fleet over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	launcher    *fleet.Launcher
	mux         *http.ServeMux
	server      *http.Server
	stopTimeout time.Duration

	// shutdownCh is closed by /stopallagents once the agents are stopped
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	logger *logrus.Entry
}

// NewService creates a Service for launcher. Handlers are registered on a
// private ServeMux.
func NewService(bindAddress string, launcher *fleet.Launcher, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		launcher:    launcher,
		mux:         http.NewServeMux(),
		stopTimeout: DefaultStopTimeout,
		shutdownCh:  make(chan struct{}),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering ACoL API handlers")
	s.mux.Handle("/stats", telemetry.Instrument("stats", s.makeHandler(s.GetStats)))
	s.mux.Handle("/peers", telemetry.Instrument("peers", s.makeHandler(s.GetPeers)))
	s.mux.Handle("/peers/", telemetry.Instrument("agent_peers", s.makeHandler(s.GetAgentPeers)))
	s.mux.Handle("/stopagents", telemetry.Instrument("stopagents", http.HandlerFunc(s.StopAgents)))
	s.mux.Handle("/stopallagents", telemetry.Instrument("stopallagents", http.HandlerFunc(s.StopAllAgents)))
	s.mux.Handle("/metrics", telemetry.MetricsHandler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// SetStopTimeout changes the time the stop endpoints wait for the fleet.
func (s *Service) SetStopTimeout(timeout time.Duration) {
	s.stopTimeout = timeout
}

// Handler returns the http.Handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// ShutdownCh is closed when a client requests, through /stopallagents, that
// the whole fleet, launcher included, be stopped.
func (s *Service) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Serve calls ListenAndServe. This is a blocking call which returns when the
// server is shut down.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving ACoL API")

	s.Lock()
	s.server = &http.Server{
		Addr:    s.bindAddress,
		Handler: s.mux,
	}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error(err)
	}
}

// Shutdown stops the HTTP server if it is running.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Lock()
	server := s.server
	s.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// GetStats returns the stats of every agent that exposes them, keyed by JID.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[peers.JID]map[string]string)

	for _, rec := range s.launcher.Records() {
		if sp, ok := rec.Agent.(statsProvider); ok {
			stats[rec.ID] = sp.GetStats()
			continue
		}
		stats[rec.ID] = map[string]string{
			"id":       string(rec.ID),
			"launched": boolString(rec.Launched),
		}
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetPeers returns the launcher's presence records.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	records := []presence.Record{}
	if tracker := s.launcher.Tracker(); tracker != nil {
		records = tracker.Records()
	}

	returnRecords(w, records)
}

// GetAgentPeers returns the presence records of the agent named in the path.
func (s *Service) GetAgentPeers(w http.ResponseWriter, r *http.Request) {
	id := peers.JID(strings.TrimPrefix(r.URL.Path, "/peers/"))

	for _, rec := range s.launcher.Records() {
		if rec.ID != id {
			continue
		}
		pp, ok := rec.Agent.(peersProvider)
		if !ok {
			break
		}
		returnRecords(w, pp.GetPeers())
		return
	}

	http.Error(w, "unknown agent "+string(id), http.StatusNotFound)
}

// StopAgents stops every alive agent and keeps the launcher running.
func (s *Service) StopAgents(w http.ResponseWriter, r *http.Request) {
	if err := s.stopAgents(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(struct{}{})
}

// StopAllAgents stops every alive agent, then signals the owner of the
// service that the launcher should stop too.
func (s *Service) StopAllAgents(w http.ResponseWriter, r *http.Request) {
	err := s.stopAgents(r.Context())

	s.shutdownOnce.Do(func() { close(s.shutdownCh) })

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(struct{}{})
}

func (s *Service) stopAgents(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()

	err := s.launcher.StopAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Stopping agents")
	}
	return err
}

func returnRecords(w http.ResponseWriter, records []presence.Record) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(records)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
