package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/config"
	"github.com/cyberviable/vsm/internal/controlplane"
	"github.com/cyberviable/vsm/internal/rpc"
	"github.com/cyberviable/vsm/internal/types"
)

// parseKeyValuePairs turns a repeatable --flag key=value slice (as produced
// by cobra's StringArrayVar) into a map, used for both `agent spawn --config`
// and `policy set --context`.
func parseKeyValuePairs(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q, want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// cliError carries the operator CLI exit code a failure should surface as,
// per the run/agent/policy/audit/viability exit-code contract.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func asCliError(err error, target **cliError) bool {
	return errors.As(err, target)
}

func brokerUnavailable(err error) error {
	return &cliError{code: controlplane.ExitBrokerUnavailable, err: fmt.Errorf("broker unavailable: %w", err)}
}

func preconditionFailed(err error) error {
	return &cliError{code: controlplane.ExitPreconditionFailed, err: err}
}

// rpcClient is a short-lived connection to the broker used by every
// non-run subcommand to place a single Call against the control plane's
// own command queue and print the Result.
type rpcClient struct {
	pool   *broker.Pool
	router *rpc.Router
}

func newRPCClient(brokerURLOverride string) (*rpcClient, error) {
	appConfig := config.Load()
	url := appConfig.BrokerURL
	if brokerURLOverride != "" {
		url = brokerURLOverride
	}

	pool, err := broker.New(broker.Config{URL: url}, slog.Default(), nil, nil)
	if err != nil {
		return nil, brokerUnavailable(err)
	}

	router := rpc.New(pool, slog.Default(), nil, nil)
	return &rpcClient{pool: pool, router: router}, nil
}

func (c *rpcClient) Close() {
	c.router.Stop()
	c.pool.Close()
}

// call issues a single RPC to the control plane's own command queue and
// renders its Result, translating an error status into a cliError so main
// can surface the right exit code.
func (c *rpcClient) call(ctx context.Context, cmdType, target string, payload map[string]interface{}) (types.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := types.Command{
		ID:      uuid.NewString(),
		Type:    cmdType,
		Target:  target,
		Payload: payload,
	}
	result, err := c.router.Call(ctx, controlplane.CoordinatorHandle, cmd, 25*time.Second)
	if err != nil {
		return types.Result{}, brokerUnavailable(err)
	}
	if result.Status == types.StatusError {
		return result, preconditionFailed(fmt.Errorf("%s: %s", result.ErrorKind, result.ErrorMessage))
	}
	return result, nil
}

// withRPCClient opens a client, runs fn, and always closes the client
// afterward regardless of fn's outcome.
func withRPCClient(brokerURLOverride string, fn func(ctx context.Context, c *rpcClient) error) error {
	c, err := newRPCClient(brokerURLOverride)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}
