package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/node"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases, one sub-folder per agent
	DefaultBadgerFile = "badger_db"

	// DefaultTopologyFile is the name of the optional topology file in the
	// data directory
	DefaultTopologyFile = "topology.toml"

	// DefaultInfoLogFile and DefaultDebugLogFile are the names of the log
	// files written under LogDir
	DefaultInfoLogFile  = "acol_info.log"
	DefaultDebugLogFile = "acol_debug.log"
)

// Transport names.
const (
	InmemTransport = "inmem"
	WampTransport  = "wamp"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultAlgorithm      = "ACoL"
	DefaultDomain         = "localhost"
	DefaultAgents         = 5
	DefaultAgentPrefix    = "fen_ag"
	DefaultLauncherName   = "fen_launcher"
	DefaultTransport      = InmemTransport
	DefaultRouterAddr     = "127.0.0.1:8080"
	DefaultRealm          = "acol"
	DefaultEmbedRouter    = true
	DefaultMaxMessageSize = 256 * 1024
	DefaultStore          = false
	DefaultServiceAddr    = "0.0.0.0:10000"
	DefaultStopTimeout    = 30 * time.Second
	DefaultLauncherTick   = 3 * time.Second
	DefaultModelSize      = 50000
	DefaultTrainDuration  = 500 * time.Millisecond
	DefaultCallTimeout    = 5 * time.Second
)

// Config contains all the configuration properties of an ACoL fleet.
type Config struct {
	// DataDir is the top-level directory containing the configuration file,
	// the optional topology file, and the databases
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir, if set, is where info and debug logs are persisted in addition
	// to the console output.
	LogDir string `mapstructure:"log-dir"`

	// Algorithm is the name of the learning algorithm run by the agents. It
	// determines the presence status they announce.
	Algorithm string `mapstructure:"algorithm"`

	// Domain is the domain part of the JIDs of the generated topology.
	Domain string `mapstructure:"domain"`

	// Agents is the number of agents of the generated topology. It is ignored
	// when a topology file is used.
	Agents int `mapstructure:"agents"`

	// Topology is the path of a TOML topology file. If empty, the file
	// DefaultTopologyFile in DataDir is used when it exists; otherwise a fully
	// connected topology of Agents agents is generated.
	Topology string `mapstructure:"topology"`

	// Transport selects the presence and messaging substrate: "inmem" runs the
	// whole fleet in a single process, "wamp" goes through a WAMP router.
	Transport string `mapstructure:"transport"`

	// RouterAddr is the host:port of the WAMP router.
	RouterAddr string `mapstructure:"router"`

	// Realm is the WAMP realm shared by the fleet.
	Realm string `mapstructure:"realm"`

	// EmbedRouter starts a WAMP router on RouterAddr in the same process.
	EmbedRouter bool `mapstructure:"embed-router"`

	// CallTimeout bounds WAMP calls.
	CallTimeout time.Duration `mapstructure:"call-timeout"`

	// MaxMessageSize is the largest message the transport accepts. Larger
	// payloads are fragmented.
	MaxMessageSize int `mapstructure:"max-message-size"`

	// Store activates persistent presence snapshots.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// StopTimeout bounds the time given to the agents to stop.
	StopTimeout time.Duration `mapstructure:"stop-timeout"`

	// LauncherTick is the period of the launcher's presence ticks.
	LauncherTick time.Duration `mapstructure:"launcher-tick"`

	// ModelSize is the number of weights of the dummy learner's model.
	ModelSize int `mapstructure:"model-size"`

	// TrainDuration is the simulated duration of a training step.
	TrainDuration time.Duration `mapstructure:"train-duration"`

	// Node contains the parameters shared by every agent.
	Node node.Config `mapstructure:",squash"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		Algorithm:      DefaultAlgorithm,
		Domain:         DefaultDomain,
		Agents:         DefaultAgents,
		Transport:      DefaultTransport,
		RouterAddr:     DefaultRouterAddr,
		Realm:          DefaultRealm,
		EmbedRouter:    DefaultEmbedRouter,
		CallTimeout:    DefaultCallTimeout,
		MaxMessageSize: DefaultMaxMessageSize,
		Store:          DefaultStore,
		DatabaseDir:    DefaultDatabaseDir(),
		ServiceAddr:    DefaultServiceAddr,
		StopTimeout:    DefaultStopTimeout,
		LauncherTick:   DefaultLauncherTick,
		ModelSize:      DefaultModelSize,
		TrainDuration:  DefaultTrainDuration,
		Node: node.Config{
			TickInterval:      node.DefaultTickInterval,
			ReceiveTimeout:    node.DefaultReceiveTimeout,
			ReassemblyTimeout: node.DefaultReassemblyTimeout,
			Status:            node.DefaultStatus,
		},
	}

	return config
}

// NewTestConfig returns a config object with short timeouts, an in-memory
// transport, and a logger that writes through t.Log.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.DataDir = t.TempDir()
	config.DatabaseDir = filepath.Join(config.DataDir, DefaultBadgerFile)
	config.NoService = true
	config.LauncherTick = 20 * time.Millisecond
	config.ModelSize = 100
	config.TrainDuration = 0
	config.Node.TickInterval = 20 * time.Millisecond
	config.Node.ReceiveTimeout = 200 * time.Millisecond
	config.Node.ReassemblyTimeout = time.Second
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// TopologyFile returns the path of the topology file to load, or an empty
// string if the topology should be generated.
func (c *Config) TopologyFile() string {
	if c.Topology != "" {
		return c.Topology
	}

	path := filepath.Join(c.DataDir, DefaultTopologyFile)
	if _, err := os.Stat(path); err == nil {
		return path
	}

	return ""
}

// AgentDatabaseDir returns the directory of the Badger database of an agent.
func (c *Config) AgentDatabaseDir(name string) string {
	return filepath.Join(c.DatabaseDir, name)
}

// Logger returns the logrus Logger, creating it on first use. The console
// output uses a prefixed formatter. If LogDir is set, info and debug entries
// are also written to files.
func (c *Config) Logger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogDir != "" {
			c.addFileHook()
		}
	}
	return c.logger
}

// SetLogger overrides the logger.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

func (c *Config) addFileHook() {
	if err := os.MkdirAll(c.LogDir, 0700); err != nil {
		c.logger.WithError(err).Warn("Failed to create log directory, using stderr only")
		return
	}

	pathMap := lfshook.PathMap{}

	for level, name := range map[logrus.Level]string{
		logrus.InfoLevel:  DefaultInfoLogFile,
		logrus.DebugLevel: DefaultDebugLogFile,
	} {
		path := filepath.Join(c.LogDir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			c.logger.WithError(err).Warnf("Failed to open %s, using stderr only", path)
			continue
		}
		f.Close()

		pathMap[level] = path
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level ACoL config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".ACoL")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "ACoL")
		} else {
			return filepath.Join(home, ".acol")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
