// Package types holds the core data model shared by every component of the
// control plane: agents, commands, results, algedonic signals, policies,
// resource pools, and the handful of other entities the system's data model
// names. None of these types carry behavior beyond small invariant helpers —
// the components in sibling packages own the logic.
package types

import "time"

// AgentType enumerates the kinds of level-1 agent the registry and
// supervisor know how to track. Concrete business logic for each type is out
// of scope; only the contract is specified.
type AgentType string

const (
	AgentWorker   AgentType = "worker"
	AgentSensor   AgentType = "sensor"
	AgentAPI      AgentType = "api"
	AgentReasoner AgentType = "reasoner"
	AgentChat     AgentType = "chat"
)

// Agent is the registry's record of a single level-1 process. Capabilities
// is a set represented as a map for O(1) membership checks; it is never nil
// once an Agent has been constructed via NewAgent.
type Agent struct {
	ID           string            `json:"agent_id"`
	Type         AgentType         `json:"type"`
	Handle       string            `json:"handle"`
	Capabilities map[string]Capability `json:"capabilities"`
	RegisteredAt time.Time         `json:"registered_at"`
	Metadata     map[string]string `json:"metadata"`
}

// Capability is a single advertised ability of an agent. SchemaHint is a
// freeform description of the expected payload shape; it is never validated
// by the registry itself, only carried for operator visibility.
type Capability struct {
	Name       string `json:"name"`
	SchemaHint string `json:"schema_hint,omitempty"`
}

// NewAgent builds an Agent with initialized maps so callers never have to
// nil-check Capabilities or Metadata.
func NewAgent(id string, typ AgentType, handle string, caps []Capability, metadata map[string]string) *Agent {
	capSet := make(map[string]Capability, len(caps))
	for _, c := range caps {
		capSet[c.Name] = c
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Agent{
		ID:           id,
		Type:         typ,
		Handle:       handle,
		Capabilities: capSet,
		RegisteredAt: time.Now(),
		Metadata:     metadata,
	}
}

// HasCapability reports whether the agent advertises the named capability.
func (a *Agent) HasCapability(name string) bool {
	_, ok := a.Capabilities[name]
	return ok
}

// Command is the unit of work published to a level-1 agent (or a capability
// group, or a broadcast). It is immutable once published; callers that need
// to retry construct a fresh Command with a new ID.
type Command struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Target        string            `json:"target"`
	Payload       map[string]interface{} `json:"payload"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	DeadlineMS    int64             `json:"deadline_ms,omitempty"`
	Priority      int               `json:"priority"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// ResultStatus is the outcome of a Call: a three-way status that keeps
// "timeout" out of the wire-level status enum
// (timeout is synthesized locally by the RPC layer's reaper, never carried
// over the wire as a Result.Status value).
type ResultStatus string

const (
	StatusOK      ResultStatus = "ok"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// Result is the reply to a Command, matched back to its Call by
// CorrelationID.
type Result struct {
	CorrelationID string                 `json:"correlation_id"`
	Status        ResultStatus           `json:"status"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`
}

// AlgedonicKind distinguishes pain from pleasure signals.
type AlgedonicKind string

const (
	Pain     AlgedonicKind = "pain"
	Pleasure AlgedonicKind = "pleasure"
)

// AlgedonicSignal is a pain/pleasure indication raised by any subsystem and
// routed directly to governance, bypassing normal reporting paths.
// Intensity is clamped to [0,1] by the constructor, not by callers.
type AlgedonicSignal struct {
	Kind      AlgedonicKind          `json:"kind"`
	Intensity float64                `json:"intensity"`
	Source    string                 `json:"source"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"ts"`
}

// NewAlgedonicSignal clamps intensity into [0,1] on construction so callers
// never have to re-validate a signal's intensity once constructed.
func NewAlgedonicSignal(kind AlgedonicKind, intensity float64, source string, ctx map[string]interface{}) AlgedonicSignal {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	return AlgedonicSignal{
		Kind:      kind,
		Intensity: intensity,
		Source:    source,
		Context:   ctx,
		Timestamp: time.Now(),
	}
}

// PolicyType enumerates the categories of policy the store holds.
type PolicyType string

const (
	PolicyGovernance  PolicyType = "governance"
	PolicyAdaptation  PolicyType = "adaptation"
	PolicyResource    PolicyType = "resource"
	PolicyIdentity    PolicyType = "identity"
	PolicySynthesized PolicyType = "synthesized"
)

// Policy is a single versioned entry in the Policy Store. Body carries the
// policy's rules/constraints as an opaque map; the store does not interpret
// it beyond versioning and broadcasting. Context identifies the scope a
// policy applies to (e.g. {"source": "agent-7"} or {"capability":
// "billing"}); a pleasure signal reinforces that policy when every
// key/value pair of the policy's Context is also present in the signal's
// own Context.
type Policy struct {
	ID             string                 `json:"policy_id"`
	Type           PolicyType             `json:"type"`
	Body           map[string]interface{} `json:"body"`
	Context        map[string]interface{} `json:"context,omitempty"`
	AutoExecutable bool                   `json:"auto_executable"`
	CreatedAt      time.Time              `json:"created_at"`
	Version        int                    `json:"version"`
	Reinforcement  int                    `json:"reinforcement"`
}

// Urgency classifies an AdaptationProposal's time pressure.
type Urgency string

const (
	UrgencyLow           Urgency = "low"
	UrgencyMedium        Urgency = "medium"
	UrgencyHigh          Urgency = "high"
	UrgencyCritical      Urgency = "critical"
)

// ProposalCategory classifies how disruptive a proposed adaptation is.
type ProposalCategory string

const (
	CategoryIncremental     ProposalCategory = "incremental"
	CategoryTransformational ProposalCategory = "transformational"
	CategoryDefensive       ProposalCategory = "defensive"
)

// AdaptationProposal is Intelligence's output in response to a detected
// challenge: a recommended change, not an executed one.
type AdaptationProposal struct {
	ID                string           `json:"id"`
	Urgency           Urgency          `json:"urgency"`
	Category          ProposalCategory `json:"category"`
	RequiredResources map[string]int   `json:"required_resources,omitempty"`
	Horizon           string           `json:"horizon"`
	Rationale         string           `json:"rationale"`
	CreatedAt         time.Time        `json:"created_at"`
}

// ResourceKind enumerates the pools Control manages.
type ResourceKind string

const (
	ResourceCompute ResourceKind = "compute"
	ResourceMemory  ResourceKind = "memory"
	ResourceNetwork ResourceKind = "network"
	ResourceStorage ResourceKind = "storage"
)

// ResourcePool tracks one resource kind's capacity ledger. Invariant:
// 0 <= Allocated+Reserved <= Total at all times; enforced by internal/control,
// not by this struct.
type ResourcePool struct {
	Kind       ResourceKind `json:"kind"`
	Total      int          `json:"total"`
	Allocated  int          `json:"allocated"`
	Reserved   int          `json:"reserved"`
}

// Available returns the capacity not yet allocated or reserved.
func (p ResourcePool) Available() int {
	return p.Total - p.Allocated - p.Reserved
}

// Allocation is a granted claim against one or more resource pools.
type Allocation struct {
	ID        string         `json:"id"`
	Context   string         `json:"context"`
	Resources map[ResourceKind]int `json:"resources"`
	Priority  int            `json:"priority"`
	GrantedAt time.Time      `json:"granted_at"`
}

// VarietyDirection distinguishes inbound (filtered up) from outbound
// (amplified down) variety samples.
type VarietyDirection string

const (
	Inbound  VarietyDirection = "inbound"
	Outbound VarietyDirection = "outbound"
)

// VarietyEvent is one observed message within a variety sampling window.
type VarietyEvent struct {
	Timestamp   time.Time `json:"ts"`
	MessageType string    `json:"message_type"`
}

// VarietyMetrics are the derived statistics over a VarietySample's active
// window: how many distinguishable message types occurred, the Shannon
// entropy of their distribution, and the arrival rate.
type VarietyMetrics struct {
	DistinctTypes int     `json:"distinct_types"`
	Entropy       float64 `json:"entropy"`
	Velocity      float64 `json:"velocity"`
}

// MetaVSM describes a recursively spawned coordinator instance.
type MetaVSM struct {
	Identity       string    `json:"identity"`
	ParentIdentity string    `json:"parent_identity,omitempty"`
	Depth          int       `json:"depth"`
	SpawnedAt      time.Time `json:"spawned_at"`
	ExchangePrefix string    `json:"exchange_prefix"`
}

// AuditStatus is the outcome of an audit request.
type AuditStatus string

const (
	AuditComplete AuditStatus = "complete"
	AuditTimeout  AuditStatus = "timeout"
	AuditError    AuditStatus = "error"
)

// AuditRecord is the C9 channel's record of one direct inspection call.
type AuditRecord struct {
	AuditID      string      `json:"audit_id"`
	Target       string      `json:"target"`
	Operation    string      `json:"operation"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Status       AuditStatus `json:"status"`
	ResponseSize int         `json:"response_size"`
}
