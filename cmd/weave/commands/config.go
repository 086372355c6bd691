package commands

import (
	"github.com/mosaicnetworks/weave/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Weave config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Weave: *config.NewDefaultConfig(),
	}
}
