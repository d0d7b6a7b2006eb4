package agent

import (
	"context"
	"errors"

	"github.com/cyberviable/vsm/internal/types"
)

// CapabilityHandler processes one Command dispatched for a registered
// capability. It returns the Result payload to publish back, or an error
// classified by internal/errors — the runtime converts unclassified errors
// to kind=internal rather than crashing the consumer loop.
type CapabilityHandler func(ctx context.Context, cmd types.Command) (map[string]interface{}, error)

// Capability pairs a handler with the schema hint advertised to the
// registry.
type Capability struct {
	Name       string
	SchemaHint string
	Handler    CapabilityHandler
}

var (
	ErrDuplicateCapability = errors.New("capability already registered")
	ErrAgentAlreadyRunning = errors.New("agent is already running")
	ErrNoCapabilities      = errors.New("agent has no registered capabilities")
)
