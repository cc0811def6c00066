// Package bus is the event-bus gateway of the transfer core: deterministic
// topic naming, per-topic consumers with manual-commit discipline, and
// at-least-once envelope produce operations.
package bus

import (
	"context"
	"time"

	"github.com/payrail/transfers/envelope"
)

// Message is one consumed envelope together with its topic position. Offset
// is the position to commit once the message reaches a terminal outcome.
type Message struct {
	Topic    string
	Offset   int64
	Envelope *envelope.Envelope
}

// Handler is the per-topic consumer callback. A non-nil busErr signals a
// dispatch failure of the bus itself and must be raised as fatal by
// returning an error. A returned error leaves the message uncommitted; the
// bus will redeliver it.
type Handler func(ctx context.Context, busErr error, msgs []Message) error

// ConsumerConfig is the per-topic consumer configuration, sourced externally
// and keyed by functionality and action.
type ConsumerConfig struct {
	ClientID       string
	GroupID        string
	SessionTimeout time.Duration
	AutoCommit     bool
}

// Consumer is a bound topic consumer.
type Consumer interface {
	// Topic returns the consumed topic.
	Topic() string
	// AutoCommit reports whether offsets commit automatically, in which
	// case CommitSync is a no-op.
	AutoCommit() bool
	// CommitSync durably commits the offset of msg. It returns only after
	// the commit is persisted.
	CommitSync(ctx context.Context, msg Message) error
}

// Bus is the gateway consumed by the coordinators and the registrar.
type Bus interface {
	// GetConsumer returns the bound consumer of a topic, or nil when no
	// handler was created for it.
	GetConsumer(topic string) Consumer

	// CreateHandler binds handler as the consumer callback of topic and
	// starts its worker. Messages are delivered strictly sequentially
	// within a topic.
	CreateHandler(ctx context.Context, topic string, cfg ConsumerConfig, handler Handler) error

	// ProduceGeneral stamps event metadata onto env and produces it to the
	// shared topic of (eventType, action). Notification events of any
	// action share the single notification topic. At-least-once.
	ProduceGeneral(ctx context.Context, eventType, action string, env *envelope.Envelope, state envelope.State) error

	// ProduceParticipant stamps event metadata onto env and produces it to
	// the per-participant topic of (eventType, action). At-least-once.
	ProduceParticipant(ctx context.Context, participant, eventType, action string, env *envelope.Envelope, state envelope.State) error
}

// RouteGeneral maps an event type and action to its shared topic.
// Notification events of every action share the single notification topic.
func RouteGeneral(eventType, action string) string {
	if eventType == envelope.TypeNotification {
		return TopicNotification
	}
	return GeneralTopic(envelope.TypeTransfer, action)
}

// RouteParticipant maps an event type and action to its per-participant topic.
func RouteParticipant(participant, eventType, action string) string {
	if eventType == envelope.TypePosition {
		return PositionTopic(participant, action)
	}
	return GeneralTopic(participant+"-"+envelope.TypeTransfer, action)
}
