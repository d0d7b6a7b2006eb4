package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyberviable/vsm/internal/controlplane"
)

// runCmd starts the control plane process in-process, identical to
// cmd/coordinator, so an operator can launch the whole system from the
// same binary used to drive it.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the VSM control plane",
		Long:  `Dials the broker, declares the fixed topology, and wires every level-2 through level-5 component together. Blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			if code := controlplane.Run(ctx); code != controlplane.ExitOK {
				return &cliError{code: code, err: fmt.Errorf("control plane exited with status %d", code)}
			}
			return nil
		},
	}
}
