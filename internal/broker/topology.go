package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// defaultQueueTTLMS is the default dead-letter TTL applied to every
// durable queue this declarator creates (10 minutes).
const defaultQueueTTLMS = 10 * 60 * 1000

// exchangeSpec describes one exchange in the fixed topology table.
type exchangeSpec struct {
	name string
	kind string // "fanout", "topic", "direct"
}

// standardExchanges is the fixed exchange table from the topology spec.
// Per-agent result exchanges (vsm.s1.<id>.results) are declared per agent by
// DeclareAgentQueues when that agent starts, not by Declare.
var standardExchanges = []exchangeSpec{
	{"vsm.algedonic", "fanout"},
	{"vsm.policy", "fanout"},
	{"vsm.intelligence", "topic"},
	{"vsm.control", "topic"},
	{"vsm.recursive", "topic"},
	{"vsm.s1.commands", "topic"},
	{"vsm.audit", "direct"},
}

// queueSpec describes one standard queue; every queue dead-letters to the
// single shared "vsm.dlx" exchange declared by Declare.
type queueSpec struct {
	name    string
	bind    string // exchange to bind to, empty if bound elsewhere
	routing string
}

var standardQueues = []queueSpec{
	{"vsm.system5.policy", "vsm.policy", ""},
	{"vsm.system4.intelligence", "vsm.intelligence", "#"},
	{"vsm.system3.control", "vsm.control", "#"},
	{"vsm.system5.algedonic", "vsm.algedonic", ""},
}

// Declarator declares the fixed topology at startup. Declaration is
// idempotent: AMQP servers close the channel on a property mismatch
// (PRECONDITION_FAILED) rather than erroring the call, so a second
// declaration with identical properties is always safe; a mismatched one
// surfaces as a channel error the caller should treat as a deployment bug,
// not something to paper over silently.
type Declarator struct {
	pool *Pool
}

// NewDeclarator returns a Declarator bound to pool.
func NewDeclarator(pool *Pool) *Declarator {
	return &Declarator{pool: pool}
}

// Declare creates every standard exchange and queue. It is safe to call on
// every process startup.
func (d *Declarator) Declare(ctx context.Context) error {
	lease, err := d.pool.Acquire(ctx, "topology")
	if err != nil {
		return err
	}
	defer d.pool.Release(lease)

	ch := lease.Channel()

	for _, ex := range standardExchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	dlxName := "vsm.dlx"
	if err := ch.ExchangeDeclare(dlxName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	for _, q := range standardQueues {
		if err := d.declareQueue(ch, q.name, dlxName); err != nil {
			return err
		}
		if q.bind != "" {
			if err := ch.QueueBind(q.name, q.routing, q.bind, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.bind, err)
			}
		}
	}

	return nil
}

// declareQueue declares a durable queue with the shared dead-letter
// exchange, the default TTL, and x-max-priority 10 so priority 0..10
// commands are honored. The priority argument is always sent; a broker that
// rejects it fails the declaration, and there is no FIFO fallback path.
func (d *Declarator) declareQueue(ch *amqp.Channel, name, dlxName string) error {
	args := amqp.Table{
		"x-dead-letter-exchange": dlxName,
		"x-message-ttl":          int32(defaultQueueTTLMS),
		"x-max-priority":         int32(10),
	}
	_, err := ch.QueueDeclare(name, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// DeclareAgentQueues declares the per-agent command queue and result
// exchange for id, bound on vsm.s1.commands with routing keys agent.<id>
// and capability.<cap> for each capability, per the Agent Runtime Contract.
func (d *Declarator) DeclareAgentQueues(ctx context.Context, id string, capabilities []string) error {
	lease, err := d.pool.Acquire(ctx, "agent:"+id)
	if err != nil {
		return err
	}
	defer d.pool.Release(lease)

	ch := lease.Channel()

	dlxName := "vsm.dlx"
	cmdQueue := fmt.Sprintf("vsm.s1.%s.command", id)
	if err := d.declareQueue(ch, cmdQueue, dlxName); err != nil {
		return err
	}
	if err := ch.QueueBind(cmdQueue, "agent."+id, "vsm.s1.commands", false, nil); err != nil {
		return fmt.Errorf("bind agent queue to agent routing key: %w", err)
	}
	for _, cap := range capabilities {
		if err := ch.QueueBind(cmdQueue, "capability."+cap, "vsm.s1.commands", false, nil); err != nil {
			return fmt.Errorf("bind agent queue to capability routing key: %w", err)
		}
	}
	if err := ch.QueueBind(cmdQueue, "broadcast", "vsm.s1.commands", false, nil); err != nil {
		return fmt.Errorf("bind agent queue to broadcast routing key: %w", err)
	}

	resultsExchange := fmt.Sprintf("vsm.s1.%s.results", id)
	if err := ch.ExchangeDeclare(resultsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare results exchange: %w", err)
	}

	return nil
}

// DeclareMetaQueue declares the recursive-addressing queue for a spawned
// meta-VSM identity, bound on vsm.recursive with routing key meta.<identity>.
func (d *Declarator) DeclareMetaQueue(ctx context.Context, identity string) error {
	lease, err := d.pool.Acquire(ctx, "meta:"+identity)
	if err != nil {
		return err
	}
	defer d.pool.Release(lease)

	ch := lease.Channel()
	dlxName := "vsm.dlx"
	queue := fmt.Sprintf("vsm.meta.%s", identity)
	if err := d.declareQueue(ch, queue, dlxName); err != nil {
		return err
	}
	return ch.QueueBind(queue, "meta."+identity, "vsm.recursive", false, nil)
}
