package acol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mosaicnetworks/acol/src/config"
	"github.com/mosaicnetworks/acol/src/fleet"
	"github.com/mosaicnetworks/acol/src/learning"
	"github.com/mosaicnetworks/acol/src/net"
	"github.com/mosaicnetworks/acol/src/node"
	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/mosaicnetworks/acol/src/presence"
	"github.com/mosaicnetworks/acol/src/service"
	"github.com/sirupsen/logrus"
)

// ErrUnknownTransport is returned by Init when Config.Transport is not one of
// the supported transports.
var ErrUnknownTransport = errors.New("unknown transport")

// ACoL is the engine that wires the configuration to a running fleet: a
// transport substrate, one node per agent of the topology, a launcher, and
// the HTTP service.
type ACoL struct {
	Config    *config.Config
	Algorithm config.Algorithm
	Topology  *config.Topology
	Hub       *net.Hub
	Router    *net.Router
	Nodes     []*node.Node
	Launcher  *fleet.Launcher
	Service   *service.Service

	logger *logrus.Entry
}

// NewACoL creates an engine from a configuration. Nothing is started before
// Init and Run.
func NewACoL(conf *config.Config) *ACoL {
	engine := &ACoL{
		Config: conf,
		logger: conf.Logger().WithField("prefix", "acol"),
	}

	return engine
}

func (a *ACoL) initAlgorithm() error {
	algo, err := config.ParseAlgorithm(a.Config.Algorithm)
	if err != nil {
		return err
	}

	a.Algorithm = algo
	a.Config.Node.Status = algo.Status()

	return nil
}

func (a *ACoL) initTopology() error {
	if a.Topology != nil {
		return a.Topology.Validate()
	}

	path := a.Config.TopologyFile()
	if path == "" {
		a.Topology = config.DefaultTopology(a.Config.Agents, a.Config.Domain)

		a.logger.WithField("agents", a.Config.Agents).Debug("Generated fully connected topology")

		return a.Topology.Validate()
	}

	topo, err := config.LoadTopology(path, a.Config.Domain)
	if err != nil {
		return fmt.Errorf("loading topology %s: %w", path, err)
	}

	a.logger.WithField("path", path).Debug("Loaded topology")

	a.Topology = topo

	return nil
}

func (a *ACoL) initSubstrate() error {
	switch a.Config.Transport {
	case config.InmemTransport:
		a.Hub = net.NewHub()
	case config.WampTransport:
		if !a.Config.EmbedRouter {
			return nil
		}

		router, err := net.NewRouter(a.Config.RouterAddr, a.Config.Realm, a.logger)
		if err != nil {
			return err
		}

		a.Router = router
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, a.Config.Transport)
	}

	return nil
}

func (a *ACoL) newTransport(id peers.JID) net.Transport {
	logger := a.Config.Logger().WithField("this_id", id)

	switch {
	case a.Hub != nil:
		return net.NewInmemTransport(a.Hub, id, a.Config.MaxMessageSize, logger)
	case a.Router != nil:
		return net.NewLocalWampTransport(a.Router, id, a.Config.MaxMessageSize, a.Config.CallTimeout, logger)
	default:
		return net.NewWampTransport(a.Config.RouterAddr, a.Config.Realm, id, a.Config.MaxMessageSize, a.Config.CallTimeout, logger)
	}
}

func (a *ACoL) newStore(id peers.JID) (presence.Store, error) {
	if !a.Config.Store {
		return presence.NewInmemStore(), nil
	}

	path := a.Config.AgentDatabaseDir(string(id))

	a.logger.WithField("path", path).Debug("Opening presence database")

	return presence.NewBadgerStore(path, a.Config.Logger().WithField("this_id", id))
}

func (a *ACoL) initNodes() error {
	a.Config.Node.Logger = a.Config.Logger()

	for _, id := range a.Topology.IDs() {
		neighbours, _ := a.Topology.NeighbourSet(id)

		store, err := a.newStore(id)
		if err != nil {
			return fmt.Errorf("creating store of %s: %w", id, err)
		}

		learner := learning.NewDummyLearner(id,
			a.Config.ModelSize,
			a.Config.TrainDuration,
			a.Config.Logger().WithField("this_id", id))

		nodeConf := a.Config.Node

		n := node.NewNode(&nodeConf, neighbours, store, a.newTransport(id), learner)

		a.Nodes = append(a.Nodes, n)
	}

	return nil
}

func (a *ACoL) initLauncher() error {
	agents := make([]fleet.Agent, len(a.Nodes))
	for i, n := range a.Nodes {
		agents[i] = n
	}

	id := a.Topology.LauncherID()

	store, err := a.newStore(id)
	if err != nil {
		return fmt.Errorf("creating store of %s: %w", id, err)
	}

	a.Launcher = fleet.NewLauncher(id, agents, a.Config.Logger().WithField("prefix", "launcher")).
		WithPresence(a.newTransport(id), store, a.Config.LauncherTick)

	return nil
}

func (a *ACoL) initService() error {
	if !a.Config.NoService {
		a.Service = service.NewService(a.Config.ServiceAddr, a.Launcher, a.logger)
		a.Service.SetStopTimeout(a.Config.StopTimeout)
	}
	return nil
}

// Init builds the fleet without starting it.
func (a *ACoL) Init() error {
	if err := a.initAlgorithm(); err != nil {
		return err
	}

	if err := a.initTopology(); err != nil {
		return err
	}

	if err := a.initSubstrate(); err != nil {
		return err
	}

	if err := a.initNodes(); err != nil {
		return err
	}

	if err := a.initLauncher(); err != nil {
		return err
	}

	if err := a.initService(); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"algorithm": a.Algorithm.Name,
		"transport": a.Config.Transport,
		"agents":    len(a.Nodes),
		"launcher":  a.Launcher.ID(),
	}).Info("Fleet initialized")

	return nil
}

// Run launches the fleet and blocks until ctx is cancelled, every agent has
// stopped, or a client asked for the whole fleet to stop. It then stops the
// remaining agents, giving them Config.StopTimeout to do so, and tears down
// the launcher, the service and the router. It returns
// fleet.ErrOrphanedAgents if some agents did not stop in time.
func (a *ACoL) Run(ctx context.Context) error {
	if a.Router != nil {
		go func() {
			if err := a.Router.Run(); err != nil {
				a.logger.WithError(err).Error("WAMP router")
			}
		}()
	}

	if a.Service != nil {
		go a.Service.Serve()
	}

	launched, err := a.Launcher.LaunchAll()
	if err != nil {
		return err
	}

	if launched == 0 {
		a.logger.Error("No agent could be launched")
	} else if a.Launcher.AllLaunched() {
		a.logger.Info("All agents are launched. Waiting for them to finish...")
	}

	completedCh := make(chan struct{})
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	go func() {
		if err := a.Launcher.WaitForCompletion(waitCtx); err == nil {
			close(completedCh)
		}
	}()

	var shutdownCh <-chan struct{}
	if a.Service != nil {
		shutdownCh = a.Service.ShutdownCh()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Fleet cancelled")
	case <-completedCh:
		a.logger.Info("All agents finished")
	case <-shutdownCh:
		a.logger.Info("Fleet stop requested")
	}

	return a.Shutdown()
}

// Shutdown stops the agents, then the launcher, the service and the router.
func (a *ACoL) Shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.StopTimeout)
	defer cancel()

	err := a.Launcher.StopAll(stopCtx)
	if err != nil {
		a.logger.WithError(err).Error("Stopping agents")
	}

	a.Launcher.Shutdown()

	if a.Service != nil {
		serviceCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := a.Service.Shutdown(serviceCtx); err != nil {
			a.logger.WithError(err).Debug("Shutting down service")
		}
	}

	if a.Router != nil {
		a.Router.Shutdown()
	}

	return err
}
