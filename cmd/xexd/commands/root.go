package commands

import (
	"github.com/spf13/cobra"

	"github.com/xexd/xexd/pkg/config"
)

// AppName is the executor binary name, also used to derive the default home
// directory (~/.xexd).
const AppName = "xexd"

func init() {
	config.AddGlobalFlags(RootCmd, "."+AppName)
}

// RootCmd is the root command for the executor daemon.
var RootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Autonomous executor for cross-chain transaction settlement",
	Long: `
xexd watches a coordinator chain for cross-chain transactions, bids on their
side effects, executes the won ones on target chains, and submits inclusion
proofs back for confirmation.
If the --home flag is not specified, xexd keeps its config and data in "~/.xexd".
`,
}
