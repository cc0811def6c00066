// Package envelope defines the on-bus message shape shared by every topic of
// the switch: a payload wrapped with routing fields and event metadata. All
// topics carry line-delimited JSON serializations of Envelope.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/message"
)

// Event types carried in metadata.event.type.
const (
	TypeTransfer     = "transfer"
	TypeFulfil       = "fulfil"
	TypeNotification = "notification"
	TypePosition     = "position"
)

// Event actions carried in metadata.event.action.
const (
	ActionPrepare          = "prepare"
	ActionPrepareDuplicate = "prepare-duplicate"
	ActionCommit           = "commit"
	ActionReject           = "reject"
	ActionAbort            = "abort"
	ActionTimeoutReserved  = "timeout-reserved"
	ActionTransfer         = "transfer"
)

// Event state statuses carried in metadata.event.state.status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// State is the outcome annotation of an event.
type State struct {
	Status      string `json:"status"`
	Code        int    `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// SuccessState is the zero-code success State.
var SuccessState = State{Status: StatusSuccess}

// FailureState builds a failure State from a stable error code.
func FailureState(code int, description string) State {
	return State{Status: StatusFailure, Code: code, Description: description}
}

// Event is the metadata.event block of an Envelope.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata wraps Event. It's a struct (rather than inlining Event) to match
// the wire shape consumed by downstream subsystems.
type Metadata struct {
	Event Event `json:"event"`
}

// Content carries the domain payload and pass-through headers. Both are kept
// as raw JSON so that fields this core doesn't understand survive re-produce
// (the transfer-event router forwards envelopes it does not fully model).
type Content struct {
	Payload json.RawMessage `json:"payload"`
	Headers json.RawMessage `json:"headers,omitempty"`
}

// Envelope is the on-bus message.
type Envelope struct {
	ID       string   `json:"id"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// New builds an Envelope around a marshalled payload.
func New(id, from, to string, payload interface{}) (*Envelope, error) {
	var raw, err = json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload: %w", err)
	}
	return &Envelope{
		ID:      id,
		From:    from,
		To:      to,
		Content: Content{Payload: raw},
	}, nil
}

// WithEvent stamps event metadata onto the Envelope, assigning a fresh event
// ID and creation time, and returns it for chaining.
func (e *Envelope) WithEvent(typ, action string, state State) *Envelope {
	e.Metadata.Event = Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Action:    action,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	return e
}

// DecodePayload unmarshals content.payload into out.
func (e *Envelope) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(e.Content.Payload, out); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// Envelope opts out of exactly-once sequencing: topics of this switch are
// at-least-once, with idempotency enforced by the duplicate resolver and the
// store rather than by broker UUIDs.
var _ message.Message = (*Envelope)(nil)

// GetUUID returns a zero UUID.
func (e *Envelope) GetUUID() message.UUID { return message.UUID{} }

// SetUUID is a no-op.
func (e *Envelope) SetUUID(message.UUID) {}

// NewAcknowledgement returns an empty Envelope.
func (e *Envelope) NewAcknowledgement(pb.Journal) message.Message { return new(Envelope) }
