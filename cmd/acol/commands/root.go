package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for ACoL
var RootCmd = &cobra.Command{
	Use:              "acol",
	Short:            "asynchronous collaborative learning fleet",
	TraverseChildren: true,
}
