package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/broker/client"
	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/message"

	"github.com/payrail/transfers/envelope"
)

var messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_bus_messages_consumed_total",
	Help: "Envelopes read from bus topics.",
}, []string{"topic"})

var messagesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_bus_messages_produced_total",
	Help: "Envelopes produced to bus topics.",
}, []string{"topic"})

var handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_bus_handler_failures_total",
	Help: "Fatal handler failures which stopped a topic worker.",
}, []string{"topic"})

// OffsetStore persists manual-commit consume offsets across restarts.
type OffsetStore interface {
	ReadOffset(ctx context.Context, topic string) (int64, error)
	CommitOffset(ctx context.Context, topic string, offset int64) error
}

// GazetteBus is a Bus over gazette journals: one journal per topic, envelopes
// framed as line-delimited JSON. Produce is an at-least-once journal append;
// consume is a blocking journal read resuming from the store-committed
// offset of the topic.
type GazetteBus struct {
	rjc     pb.RoutedJournalClient
	ajc     client.AsyncJournalClient
	pub     *message.Publisher
	offsets OffsetStore

	mu        sync.Mutex
	consumers map[string]*journalConsumer
}

var _ Bus = (*GazetteBus)(nil)

// NewGazetteBus builds a GazetteBus over a routed journal client. Journals
// backing topics are provisioned out-of-band by operator tooling.
func NewGazetteBus(ctx context.Context, rjc pb.RoutedJournalClient, offsets OffsetStore) *GazetteBus {
	var ajc = client.NewAppendService(ctx, rjc)
	return &GazetteBus{
		rjc:       rjc,
		ajc:       ajc,
		pub:       message.NewPublisher(ajc, nil),
		offsets:   offsets,
		consumers: make(map[string]*journalConsumer),
	}
}

func (b *GazetteBus) GetConsumer(topic string) Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[topic]; ok {
		return c
	}
	return nil
}

func (b *GazetteBus) CreateHandler(ctx context.Context, topic string, cfg ConsumerConfig, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.consumers[topic]; ok {
		return fmt.Errorf("topic %s already has a handler", topic)
	}

	var offset, err = b.offsets.ReadOffset(ctx, topic)
	if err != nil {
		return fmt.Errorf("resuming offset of %s: %w", topic, err)
	}
	var jc = &journalConsumer{
		topic:      topic,
		autoCommit: cfg.AutoCommit,
		offsets:    b.offsets,
	}
	b.consumers[topic] = jc

	var rr = client.NewRetryReader(ctx, b.rjc, pb.ReadRequest{
		Journal: pb.Journal(topic),
		Offset:  offset,
		Block:   true,
	})
	go jc.consume(ctx, message.NewReadUncommittedIter(rr, newEnvelopeMessage), handler)

	log.WithFields(log.Fields{
		"topic":    topic,
		"clientId": cfg.ClientID,
		"offset":   offset,
	}).Info("registered topic handler")
	return nil
}

func (b *GazetteBus) ProduceGeneral(ctx context.Context, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	return b.produce(ctx, RouteGeneral(eventType, action), eventType, action, env, state)
}

func (b *GazetteBus) ProduceParticipant(ctx context.Context, participant, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	return b.produce(ctx, RouteParticipant(participant, eventType, action), eventType, action, env, state)
}

func (b *GazetteBus) produce(ctx context.Context, topic, eventType, action string, env *envelope.Envelope, state envelope.State) error {
	env.WithEvent(eventType, action, state)

	var mapping message.MappingFunc = func(message.Mappable) (pb.Journal, message.Framing, error) {
		return pb.Journal(topic), message.JSONFraming, nil
	}
	var aa, err = b.pub.PublishCommitted(mapping, env)
	if err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}
	<-aa.Done()
	if err = aa.Err(); err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}
	messagesProduced.WithLabelValues(topic).Inc()
	return nil
}

func newEnvelopeMessage(*pb.JournalSpec) (message.Message, error) {
	return new(envelope.Envelope), nil
}

// journalConsumer is the per-topic worker. Messages are processed strictly
// sequentially; a handler error stops the worker without committing, so the
// message redelivers when the worker restarts.
type journalConsumer struct {
	topic      string
	autoCommit bool
	offsets    OffsetStore
}

var _ Consumer = (*journalConsumer)(nil)

func (c *journalConsumer) Topic() string    { return c.topic }
func (c *journalConsumer) AutoCommit() bool { return c.autoCommit }

func (c *journalConsumer) CommitSync(ctx context.Context, msg Message) error {
	if c.autoCommit {
		return nil
	}
	return c.offsets.CommitOffset(ctx, c.topic, msg.Offset)
}

func (c *journalConsumer) consume(ctx context.Context, it *message.ReadUncommittedIter, handler Handler) {
	for {
		var env, err = it.Next()

		if err != nil {
			if ctx.Err() != nil {
				return // Graceful shutdown.
			}
			// Surface the dispatch failure through the handler contract.
			if hErr := handler(ctx, err, nil); hErr != nil {
				handlerFailures.WithLabelValues(c.topic).Inc()
				log.WithFields(log.Fields{"topic": c.topic, "err": hErr}).
					Error("topic worker stopped on dispatch failure")
				return
			}
			continue
		}
		messagesConsumed.WithLabelValues(c.topic).Inc()

		var msg = Message{
			Topic:    c.topic,
			Offset:   int64(env.End),
			Envelope: env.Message.(*envelope.Envelope),
		}
		if c.autoCommit {
			if err = c.offsets.CommitOffset(ctx, c.topic, msg.Offset); err != nil {
				log.WithFields(log.Fields{"topic": c.topic, "err": err}).
					Error("auto-commit of offset failed")
			}
		}
		if err = handler(ctx, nil, []Message{msg}); err != nil {
			handlerFailures.WithLabelValues(c.topic).Inc()
			log.WithFields(log.Fields{
				"topic":  c.topic,
				"offset": msg.Offset,
				"err":    err,
			}).Error("topic worker stopped; message will redeliver on restart")
			return
		}
	}
}
