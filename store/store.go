// Package store is the transactional persistence gateway of the transfer
// core: duplicate-hash checks, transfer rows with an append-only state-change
// history, error logging, the participant registry, and durable consumer
// offsets for manual-commit topics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/payrail/transfers/envelope"
)

// TransferState enumerates the lifecycle of a transfer. The string values are
// the human enumeration exposed to clients.
type TransferState string

const (
	TransferStateReceived  TransferState = "RECEIVED"
	TransferStateReserved  TransferState = "RESERVED"
	TransferStateCommitted TransferState = "COMMITTED"
	TransferStateAborted   TransferState = "ABORTED"
)

// Terminal returns whether the state admits no further transitions.
func (s TransferState) Terminal() bool {
	return s == TransferStateCommitted || s == TransferStateAborted
}

// ErrNotReserved is returned by Fulfil and Reject when the transfer is not in
// RESERVED state. Lifecycle transitions are store-atomic; this is the
// serialization point for concurrent fulfils of one transfer.
var ErrNotReserved = errors.New("transfer is not in RESERVED state")

// DuplicateCheck is the result of an insert-if-absent of (transferId, hash).
type DuplicateCheck struct {
	// ExistsMatching: the same transferId was seen before with this same hash.
	ExistsMatching bool
	// ExistsNotMatching: the same transferId was seen with a different hash.
	ExistsNotMatching bool
}

// Transfer is a stored transfer joined with its latest state.
type Transfer struct {
	ID             string
	PayerFsp       string
	PayeeFsp       string
	Amount         envelope.Amount
	ILPPacket      string
	Condition      string
	ExpirationDate time.Time
	State          TransferState
	Fulfilment     string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// Snapshot renders the transfer as its wire payload shape.
func (t *Transfer) Snapshot() envelope.TransferSnapshot {
	return envelope.TransferSnapshot{
		TransferID:         t.ID,
		TransferState:      string(t.State),
		Fulfilment:         t.Fulfilment,
		CompletedTimestamp: t.CompletedAt,
	}
}

// Fulfilment carries the commit-side completion of a transfer.
type Fulfilment struct {
	Fulfilment         string
	CompletedTimestamp time.Time
}

// Participant is a registered financial service provider.
type Participant struct {
	Name       string
	IsActive   bool
	Currencies []string
}

// Store is the contract the transfer pipelines consume. All operations are
// transactional from the caller's perspective; partial failures surface as a
// single error.
type Store interface {
	// ValidateDuplicateHash atomically inserts (transferID, hash) if absent
	// and classifies the payload against any prior insert.
	ValidateDuplicateHash(ctx context.Context, transferID string, hash []byte) (DuplicateCheck, error)
	// GetTransferStateChange returns the latest recorded state of the
	// transfer, or "" when none exists.
	GetTransferStateChange(ctx context.Context, transferID string) (TransferState, error)
	// GetByID returns the transfer with its latest state, or nil when absent.
	GetByID(ctx context.Context, transferID string) (*Transfer, error)
	// Prepare persists the transfer. Valid prepares land in RESERVED;
	// invalid ones are still persisted (required for audit) and land in
	// ABORTED with the validation reason recorded.
	Prepare(ctx context.Context, p *envelope.TransferPrepare, reason string, valid bool) error
	// Fulfil transitions RESERVED -> COMMITTED atomically.
	Fulfil(ctx context.Context, transferID string, f Fulfilment) error
	// Reject transitions RESERVED -> ABORTED atomically, recording the error.
	Reject(ctx context.Context, transferID string, e envelope.ErrorInformation) error
	// LogTransferError appends to the transfer error log.
	LogTransferError(ctx context.Context, transferID string, code int, description string) error

	// GetParticipant returns a registered participant, or nil when absent.
	GetParticipant(ctx context.Context, name string) (*Participant, error)
	// ParticipantNames lists all registered participant names.
	ParticipantNames(ctx context.Context) ([]string, error)

	// ReadOffset returns the committed consume offset of a topic, or 0.
	ReadOffset(ctx context.Context, topic string) (int64, error)
	// CommitOffset durably records the consume offset of a topic.
	CommitOffset(ctx context.Context, topic string, offset int64) error
}
