// Package bustest provides an in-process Bus for pipeline tests: handlers
// run synchronously on Deliver, produces and commits are recorded in order,
// and produce failures can be injected per topic.
package bustest

import (
	"context"
	"fmt"
	"sync"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/envelope"
)

// Op is one recorded commit or produce, in arrival order.
type Op struct {
	// Kind is "commit" or "produce".
	Kind string
	// Topic of the operation.
	Topic string
	// Offset of a commit.
	Offset int64
	// Envelope of a produce (after metadata stamping).
	Envelope *envelope.Envelope
}

// Bus implements bus.Bus in memory.
type Bus struct {
	mu        sync.Mutex
	consumers map[string]*consumer
	handlers  map[string]bus.Handler

	// Ops is every commit and produce, in order.
	Ops []Op
	// ProduceErr injects a produce failure for a topic.
	ProduceErr map[string]error
}

var _ bus.Bus = (*Bus)(nil)

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		consumers:  make(map[string]*consumer),
		handlers:   make(map[string]bus.Handler),
		ProduceErr: make(map[string]error),
	}
}

func (b *Bus) GetConsumer(topic string) bus.Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[topic]; ok {
		return c
	}
	return nil
}

func (b *Bus) CreateHandler(ctx context.Context, topic string, cfg bus.ConsumerConfig, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.consumers[topic]; ok {
		return fmt.Errorf("topic %s already has a handler", topic)
	}
	b.consumers[topic] = &consumer{bus: b, topic: topic, cfg: cfg}
	b.handlers[topic] = handler
	return nil
}

// Deliver invokes the topic's handler with a single message, as the worker
// loop would. It returns the handler's error verbatim.
func (b *Bus) Deliver(ctx context.Context, topic string, env *envelope.Envelope, offset int64) error {
	b.mu.Lock()
	var handler, ok = b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler bound to topic %s", topic)
	}
	return handler(ctx, nil, []bus.Message{{Topic: topic, Offset: offset, Envelope: env}})
}

// DeliverBusError invokes the topic's handler with a dispatch error.
func (b *Bus) DeliverBusError(ctx context.Context, topic string, busErr error) error {
	b.mu.Lock()
	var handler, ok = b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler bound to topic %s", topic)
	}
	return handler(ctx, busErr, nil)
}

// ClientID returns the configured client id of a bound topic.
func (b *Bus) ClientID(topic string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[topic]; ok {
		return c.cfg.ClientID
	}
	return ""
}

// Topics lists bound topics.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for t := range b.consumers {
		out = append(out, t)
	}
	return out
}

// Produced returns recorded produces to a topic, in order.
func (b *Bus) Produced(topic string) []*envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*envelope.Envelope
	for _, op := range b.Ops {
		if op.Kind == "produce" && op.Topic == topic {
			out = append(out, op.Envelope)
		}
	}
	return out
}

// Commits returns recorded commit offsets of a topic, in order.
func (b *Bus) Commits(topic string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []int64
	for _, op := range b.Ops {
		if op.Kind == "commit" && op.Topic == topic {
			out = append(out, op.Offset)
		}
	}
	return out
}

func (b *Bus) ProduceGeneral(ctx context.Context, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	return b.produce(bus.RouteGeneral(eventType, action), eventType, action, env, state)
}

func (b *Bus) ProduceParticipant(ctx context.Context, participant, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	return b.produce(bus.RouteParticipant(participant, eventType, action), eventType, action, env, state)
}

func (b *Bus) produce(topic, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ProduceErr[topic]; err != nil {
		return err
	}
	env.WithEvent(eventType, action, state)
	b.Ops = append(b.Ops, Op{Kind: "produce", Topic: topic, Envelope: env})
	return nil
}

type consumer struct {
	bus   *Bus
	topic string
	cfg   bus.ConsumerConfig
}

func (c *consumer) Topic() string    { return c.topic }
func (c *consumer) AutoCommit() bool { return c.cfg.AutoCommit }

func (c *consumer) CommitSync(ctx context.Context, msg bus.Message) error {
	if c.cfg.AutoCommit {
		return nil
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.Ops = append(c.bus.Ops, Op{Kind: "commit", Topic: msg.Topic, Offset: msg.Offset})
	return nil
}
