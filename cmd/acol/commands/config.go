package commands

import (
	"github.com/mosaicnetworks/acol/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	ACoL config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		ACoL: *config.NewDefaultConfig(),
	}
}
