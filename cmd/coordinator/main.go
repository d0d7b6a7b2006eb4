// Command coordinator runs the VSM control plane process: it dials the
// broker, declares the fixed topology, and wires every level-2 through
// level-5 component together. Agents (level-1) are separate processes
// supervised by this one through internal/supervisor; this binary owns the
// shared infrastructure they and the operator CLI depend on. The wiring
// itself lives in internal/controlplane so vsmctl's `run` subcommand starts
// the identical process in-process rather than re-deriving it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberviable/vsm/internal/controlplane"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	os.Exit(controlplane.Run(ctx))
}
