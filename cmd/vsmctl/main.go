// Command vsmctl is the operator CLI for the VSM control plane: it can
// start the control plane process itself (`run`) or act as a thin RPC
// client against an already-running one (`agent`, `policy`, `audit`,
// `viability`), routing every non-run subcommand through the same
// rpc.Router.Call path the coordinator process dispatches on its own
// command queue.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberviable/vsm/internal/controlplane"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "vsmctl",
		Short:   "Operator CLI for the VSM control plane",
		Long:    `vsmctl starts the control plane and inspects or drives a running one: spawning and terminating agents, setting and listing policies, requesting audits, and reading the current viability score.`,
		Version: version,
	}

	var brokerURL string
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "broker URL, defaults to $VSM_BROKER_URL")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(agentCmd(&brokerURL))
	rootCmd.AddCommand(policyCmd(&brokerURL))
	rootCmd.AddCommand(auditCmd(&brokerURL))
	rootCmd.AddCommand(viabilityCmd(&brokerURL))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error returned from a subcommand's RunE into the
// operator CLI's exit-code contract, falling back to a generic failure for
// errors that never passed through a cliError.
func exitCodeFor(err error) int {
	var ce *cliError
	if asCliError(err, &ce) {
		return ce.code
	}
	return controlplane.ExitGenericError
}
