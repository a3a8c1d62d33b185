package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTickInterval is the base period of presence ticks.
	DefaultTickInterval = time.Second
	// DefaultReceiveTimeout bounds the Receive state.
	DefaultReceiveTimeout = 5 * time.Second
	// DefaultReassemblyTimeout is the age after which an incomplete
	// reassembly buffer is abandoned.
	DefaultReassemblyTimeout = 30 * time.Second
	// DefaultStatus is the presence status announced by nodes.
	DefaultStatus = "READY_ACOL"
)

// Config contains the parameters of a Node.
type Config struct {
	TickInterval      time.Duration `mapstructure:"tick"`
	ReceiveTimeout    time.Duration `mapstructure:"receive-timeout"`
	ReassemblyTimeout time.Duration `mapstructure:"reassembly-timeout"`
	Status            string        `mapstructure:"status"`
	Logger            *logrus.Logger
}

// NewConfig creates a Config with the given parameters.
func NewConfig(tick time.Duration,
	receiveTimeout time.Duration,
	reassemblyTimeout time.Duration,
	status string,
	logger *logrus.Logger) *Config {

	return &Config{
		TickInterval:      tick,
		ReceiveTimeout:    receiveTimeout,
		ReassemblyTimeout: reassemblyTimeout,
		Status:            status,
		Logger:            logger,
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		TickInterval:      DefaultTickInterval,
		ReceiveTimeout:    DefaultReceiveTimeout,
		ReassemblyTimeout: DefaultReassemblyTimeout,
		Status:            DefaultStatus,
		Logger:            logger,
	}
}

// TestConfig returns a Config with short timeouts and a logger that writes
// through t.Log.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.TickInterval = 20 * time.Millisecond
	config.ReceiveTimeout = 200 * time.Millisecond
	config.ReassemblyTimeout = time.Second
	config.Logger = common.NewTestLogger(t)
	return config
}
