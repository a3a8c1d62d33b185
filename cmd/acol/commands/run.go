package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/acol/src/acol"
	"github.com/mosaicnetworks/acol/src/config"
	"github.com/mosaicnetworks/acol/src/fleet"
	"github.com/mosaicnetworks/acol/src/telemetry"
	"github.com/mosaicnetworks/acol/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a fleet
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a fleet of agents and their launcher",
		PreRunE: loadConfig,
		RunE:    runACoL,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runACoL(cmd *cobra.Command, args []string) error {
	logger := _config.ACoL.Logger()

	telemetry.SetBuildInfo(version.Version)

	engine := acol.NewACoL(&_config.ACoL)

	if err := engine.Init(); err != nil {
		logger.Error("Cannot initialize engine:", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			logger.Info("Experiment cancelled by interruption")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := engine.Run(ctx)

	// Agents that outlive the stop timeout cannot be cleaned up from here
	if errors.Is(err, fleet.ErrOrphanedAgents) {
		logger.WithError(err).Fatal("Agents did not stop")
	}

	return err
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.ACoL.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.ACoL.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", _config.ACoL.LogDir, "Directory where info and debug logs are persisted")

	// Fleet
	cmd.Flags().String("algorithm", _config.ACoL.Algorithm, "FLaMAS, CoL, ACoL or ACoaL")
	cmd.Flags().String("domain", _config.ACoL.Domain, "Domain of the generated JIDs")
	cmd.Flags().IntP("agents", "n", _config.ACoL.Agents, "Number of agents of the generated topology")
	cmd.Flags().String("topology", _config.ACoL.Topology, "TOML topology file")
	cmd.Flags().Duration("stop-timeout", _config.ACoL.StopTimeout, "Time given to the agents to stop")
	cmd.Flags().Duration("launcher-tick", _config.ACoL.LauncherTick, "Time between the launcher's presence ticks")

	// Transport
	cmd.Flags().StringP("transport", "t", _config.ACoL.Transport, "inmem or wamp")
	cmd.Flags().StringP("router", "r", _config.ACoL.RouterAddr, "IP:Port of the WAMP router")
	cmd.Flags().String("realm", _config.ACoL.Realm, "WAMP realm")
	cmd.Flags().Bool("embed-router", _config.ACoL.EmbedRouter, "Start the WAMP router in this process")
	cmd.Flags().Duration("call-timeout", _config.ACoL.CallTimeout, "Timeout of WAMP calls")
	cmd.Flags().Int("max-message-size", _config.ACoL.MaxMessageSize, "Largest message sent without fragmentation")

	// Service
	cmd.Flags().Bool("no-service", _config.ACoL.NoService, "Disable the HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ACoL.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.ACoL.Store, "Persist presence snapshots in badgerDB")
	cmd.Flags().String("db", _config.ACoL.DatabaseDir, "Database directory")

	// Node configuration
	cmd.Flags().Duration("tick", _config.ACoL.Node.TickInterval, "Time between presence ticks")
	cmd.Flags().Duration("receive-timeout", _config.ACoL.Node.ReceiveTimeout, "Time spent waiting for a model")
	cmd.Flags().Duration("reassembly-timeout", _config.ACoL.Node.ReassemblyTimeout, "Age after which incomplete multipart messages are dropped")

	// Learner
	cmd.Flags().Int("model-size", _config.ACoL.ModelSize, "Number of weights of the dummy model")
	cmd.Flags().Duration("train-duration", _config.ACoL.TrainDuration, "Simulated duration of a training step")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.ACoL.SetDataDir(_config.ACoL.DataDir)

	logFields := logrus.Fields{
		"acol.DataDir":           _config.ACoL.DataDir,
		"acol.LogLevel":          _config.ACoL.LogLevel,
		"acol.LogDir":            _config.ACoL.LogDir,
		"acol.Algorithm":         _config.ACoL.Algorithm,
		"acol.Agents":            _config.ACoL.Agents,
		"acol.Topology":          _config.ACoL.Topology,
		"acol.Transport":         _config.ACoL.Transport,
		"acol.MaxMessageSize":    _config.ACoL.MaxMessageSize,
		"acol.ServiceAddr":       _config.ACoL.ServiceAddr,
		"acol.NoService":         _config.ACoL.NoService,
		"acol.StopTimeout":       _config.ACoL.StopTimeout,
		"acol.Store":             _config.ACoL.Store,
		"acol.TickInterval":      _config.ACoL.Node.TickInterval,
		"acol.ReceiveTimeout":    _config.ACoL.Node.ReceiveTimeout,
		"acol.ReassemblyTimeout": _config.ACoL.Node.ReassemblyTimeout,
	}

	if _config.ACoL.Transport == config.WampTransport {
		logFields["acol.RouterAddr"] = _config.ACoL.RouterAddr
		logFields["acol.Realm"] = _config.ACoL.Realm
		logFields["acol.EmbedRouter"] = _config.ACoL.EmbedRouter
	}

	if _config.ACoL.Store {
		logFields["acol.DatabaseDir"] = _config.ACoL.DatabaseDir
	}

	_config.ACoL.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/acol.toml (.json, .yaml also work)
	viper.SetConfigName("acol")               // name of config file (without extension)
	viper.AddConfigPath(_config.ACoL.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.ACoL.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.ACoL.Logger().Debugf("No config file found in: %s", _config.ACoL.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
