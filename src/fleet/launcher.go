package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
	"github.com/mosaicnetworks/acol/src/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// LauncherStatus is the presence status announced by the launcher.
	LauncherStatus = "READY2CONS"

	// DefaultLauncherTick is the period of the launcher's presence ticks.
	DefaultLauncherTick = 3 * time.Second
)

var (
	// ErrOrphanedAgents is returned by StopAll when some agents did not stop
	// before the context expired.
	ErrOrphanedAgents = errors.New("fleet: orphaned agents")

	// ErrAlreadyLaunched is returned by LaunchAll when called more than once.
	ErrAlreadyLaunched = errors.New("fleet: already launched")
)

// Agent is a long-lived process managed by the Launcher.
type Agent interface {
	ID() peers.JID
	Start() error
	Stop() error
	Done() <-chan struct{}
}

// LaunchRecord is the launcher's bookkeeping for one agent. Launched flips to
// true once, when the agent starts successfully.
type LaunchRecord struct {
	ID         peers.JID
	Launched   bool
	LaunchedAt time.Time
	Err        error
	Agent      Agent
}

// Launcher manages the lifecycle of a fleet of agents.
type Launcher struct {
	sync.RWMutex

	id      peers.JID
	agents  []Agent
	records map[peers.JID]*LaunchRecord

	launched bool

	trans   net.Transport
	tracker *presence.Tracker
	tick    time.Duration

	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	logger *logrus.Entry
}

// NewLauncher creates a Launcher for agents. Agents are identified by their
// ID, which must be unique.
func NewLauncher(id peers.JID, agents []Agent, logger *logrus.Entry) *Launcher {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	records := make(map[peers.JID]*LaunchRecord, len(agents))
	for _, a := range agents {
		records[a.ID()] = &LaunchRecord{
			ID:    a.ID(),
			Agent: a,
		}
	}

	return &Launcher{
		id:         id,
		agents:     agents,
		records:    records,
		tick:       DefaultLauncherTick,
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("this_id", id),
	}
}

// WithPresence makes the launcher announce itself on trans and track every
// agent as a neighbour, ticking its tracker every tick. It must be called
// before LaunchAll.
func (l *Launcher) WithPresence(trans net.Transport, store presence.Store, tick time.Duration) *Launcher {
	ids := make([]peers.JID, 0, len(l.agents))
	for _, a := range l.agents {
		ids = append(ids, a.ID())
	}

	if tick > 0 {
		l.tick = tick
	}
	l.trans = trans
	l.tracker = presence.NewTracker(trans, peers.NewNeighbourSet(ids, nil), store, l.logger)

	return l
}

// ID returns the JID of the launcher.
func (l *Launcher) ID() peers.JID {
	return l.id
}

// Tracker returns the launcher's presence tracker, or nil if presence is not
// enabled.
func (l *Launcher) Tracker() *presence.Tracker {
	return l.tracker
}

// LaunchAll starts every agent concurrently and waits for all the attempts to
// complete. It returns the number of agents that were launched.
func (l *Launcher) LaunchAll() (int, error) {
	l.Lock()
	if l.launched {
		l.Unlock()
		return 0, ErrAlreadyLaunched
	}
	l.launched = true
	l.Unlock()

	if l.tracker != nil {
		if err := l.startPresence(); err != nil {
			l.logger.WithError(err).Error("Starting launcher presence")
		}
	}

	var wg sync.WaitGroup
	for _, a := range l.agents {
		wg.Add(1)
		go func(a Agent) {
			defer wg.Done()
			l.launch(a)
		}(a)
	}
	wg.Wait()

	count := 0
	for _, r := range l.Records() {
		if r.Launched {
			count++
		}
	}

	telemetry.AgentsAlive.Set(float64(len(l.Alive())))

	l.logger.WithFields(logrus.Fields{
		"launched": count,
		"total":    len(l.agents),
	}).Info("Launched agents")

	return count, nil
}

// launch starts a single agent and records the outcome. A panicking agent is
// recorded as a failed launch.
func (l *Launcher) launch(a Agent) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return a.Start()
	}()

	l.Lock()
	rec := l.records[a.ID()]
	if err != nil {
		rec.Err = err
	} else {
		rec.Launched = true
		rec.LaunchedAt = time.Now()
	}
	l.Unlock()

	if err != nil {
		telemetry.AgentLaunches.WithLabelValues("failed").Inc()
		l.logger.WithError(err).WithField("agent", a.ID()).Error("Launching agent")
		return
	}

	telemetry.AgentLaunches.WithLabelValues("launched").Inc()
	l.logger.WithField("agent", a.ID()).Debug("Launched agent")
}

func (l *Launcher) startPresence() error {
	if err := l.tracker.Register(); err != nil {
		return err
	}

	if err := l.trans.Listen(); err != nil {
		return err
	}

	if err := l.tracker.Start(LauncherStatus); err != nil {
		return err
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(l.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.tracker.Tick()
			case <-l.shutdownCh:
				return
			}
		}
	}()

	return nil
}

// Records returns a copy of the launch records, in the order the agents were
// given.
func (l *Launcher) Records() []LaunchRecord {
	l.RLock()
	defer l.RUnlock()

	res := make([]LaunchRecord, 0, len(l.agents))
	for _, a := range l.agents {
		res = append(res, *l.records[a.ID()])
	}
	return res
}

// AllLaunched returns true once every agent has been launched successfully.
func (l *Launcher) AllLaunched() bool {
	for _, r := range l.Records() {
		if !r.Launched {
			return false
		}
	}
	return true
}

func isDone(a Agent) bool {
	select {
	case <-a.Done():
		return true
	default:
		return false
	}
}

// Alive returns the IDs of the launched agents that have not stopped, sorted.
func (l *Launcher) Alive() []peers.JID {
	alive := peers.NewSet()
	for _, r := range l.Records() {
		if r.Launched && !isDone(r.Agent) {
			alive.Add(r.ID)
		}
	}
	return alive.Slice()
}

// AnyAlive returns true if at least one launched agent has not stopped.
func (l *Launcher) AnyAlive() bool {
	return len(l.Alive()) > 0
}

// WaitForCompletion blocks until every launched agent has stopped, or ctx
// expires.
func (l *Launcher) WaitForCompletion(ctx context.Context) error {
	for _, r := range l.Records() {
		if !r.Launched {
			continue
		}
		select {
		case <-r.Agent.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	telemetry.AgentsAlive.Set(0)
	return nil
}

// StopAll stops every alive agent concurrently and waits for them. If ctx
// expires first, or an agent fails to stop, it returns ErrOrphanedAgents
// naming the agents still alive.
// The launcher itself keeps running; see Shutdown.
func (l *Launcher) StopAll(ctx context.Context) error {
	alive := l.Alive()

	l.logger.WithField("agents", alive).Info("Stopping agents")

	var g errgroup.Group
	for _, id := range alive {
		a := l.agent(id)
		g.Go(func() error {
			if err := a.Stop(); err != nil {
				l.logger.WithError(err).WithField("agent", a.ID()).Error("Stopping agent")
				return err
			}
			return nil
		})
	}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- g.Wait()
	}()

	var res error
	select {
	case err := <-doneCh:
		// An agent whose Stop failed may still be running
		if orphans := l.Alive(); len(orphans) > 0 {
			res = fmt.Errorf("%w: %v", ErrOrphanedAgents, orphans)
			if err != nil {
				res = fmt.Errorf("%w: %w", res, err)
			}
		}
	case <-ctx.Done():
		if orphans := l.Alive(); len(orphans) > 0 {
			res = fmt.Errorf("%w: %v", ErrOrphanedAgents, orphans)
		}
	}

	telemetry.AgentsAlive.Set(float64(len(l.Alive())))

	return res
}

func (l *Launcher) agent(id peers.JID) Agent {
	l.RLock()
	defer l.RUnlock()
	return l.records[id].Agent
}

// Shutdown withdraws the launcher's presence and closes its transport and
// store. It does not stop the agents. It is safe to call more than once.
func (l *Launcher) Shutdown() {
	l.stopOnce.Do(func() {
		close(l.shutdownCh)
		l.wg.Wait()

		if l.tracker == nil {
			return
		}

		l.tracker.Withdraw()

		if err := l.trans.Close(); err != nil {
			l.logger.WithError(err).Error("Closing launcher transport")
		}

		if err := l.tracker.Store().Close(); err != nil {
			l.logger.WithError(err).Error("Closing launcher store")
		}
	})
}
