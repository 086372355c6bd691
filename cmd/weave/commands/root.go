package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for Weave
var RootCmd = &cobra.Command{
	Use:              "weave",
	Short:            "signed event-DAG node",
	TraverseChildren: true,
}
