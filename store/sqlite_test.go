package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/payrail/transfers/envelope"
)

func newTestStore(t *testing.T) *SQLite {
	var s, err = OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPrepare(id string) *envelope.TransferPrepare {
	return &envelope.TransferPrepare{
		TransferID:     id,
		PayerFsp:       "dfspA",
		PayeeFsp:       "dfspB",
		Amount:         envelope.Amount{Currency: "USD", Amount: "100.00"},
		ILPPacket:      "AQAB",
		Condition:      "Y29uZGl0aW9u",
		ExpirationDate: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		ExtensionList:  []envelope.Extension{{Key: "k", Value: "v"}},
	}
}

func TestDuplicateHashClassification(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	var hashA = []byte{0x01, 0x02}
	var hashB = []byte{0x0a, 0x0b}

	// First sighting.
	var check, err = s.ValidateDuplicateHash(ctx, "t1", hashA)
	require.NoError(t, err)
	require.False(t, check.ExistsMatching)
	require.False(t, check.ExistsNotMatching)

	// Identical replay.
	check, err = s.ValidateDuplicateHash(ctx, "t1", hashA)
	require.NoError(t, err)
	require.True(t, check.ExistsMatching)
	require.False(t, check.ExistsNotMatching)

	// Same id, different payload.
	check, err = s.ValidateDuplicateHash(ctx, "t1", hashB)
	require.NoError(t, err)
	require.False(t, check.ExistsMatching)
	require.True(t, check.ExistsNotMatching)

	// The first-seen hash is retained, not overwritten.
	check, err = s.ValidateDuplicateHash(ctx, "t1", hashA)
	require.NoError(t, err)
	require.True(t, check.ExistsMatching)

	// A different transfer id is independent.
	check, err = s.ValidateDuplicateHash(ctx, "t2", hashB)
	require.NoError(t, err)
	require.False(t, check.ExistsMatching)
	require.False(t, check.ExistsNotMatching)
}

func TestPrepareValid(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Prepare(ctx, testPrepare("t1"), "", true))

	var state, err = s.GetTransferStateChange(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TransferStateReserved, state)

	transfer, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	require.Equal(t, "dfspA", transfer.PayerFsp)
	require.Equal(t, "dfspB", transfer.PayeeFsp)
	require.Equal(t, envelope.Amount{Currency: "USD", Amount: "100.00"}, transfer.Amount)
	require.Equal(t, TransferStateReserved, transfer.State)
	require.Empty(t, transfer.Fulfilment)
	require.Nil(t, transfer.CompletedAt)
}

func TestPrepareInvalidIsPersistedForAudit(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Prepare(ctx, testPrepare("t1"), "payer FSP dfspA is not active", false))

	var state, err = s.GetTransferStateChange(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TransferStateAborted, state)

	transfer, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	require.Equal(t, TransferStateAborted, transfer.State)
}

func TestFulfilTransition(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Prepare(ctx, testPrepare("t1"), "", true))

	var completed = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Fulfil(ctx, "t1", Fulfilment{
		Fulfilment:         "cHJlaW1hZ2U",
		CompletedTimestamp: completed,
	}))

	var transfer, err = s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TransferStateCommitted, transfer.State)
	require.Equal(t, "cHJlaW1hZ2U", transfer.Fulfilment)
	require.NotNil(t, transfer.CompletedAt)
	require.True(t, transfer.CompletedAt.Equal(completed))

	// COMMITTED is terminal.
	require.ErrorIs(t, s.Fulfil(ctx, "t1", Fulfilment{Fulfilment: "x"}), ErrNotReserved)
	require.ErrorIs(t, s.Reject(ctx, "t1", envelope.ErrorInformation{}), ErrNotReserved)
}

func TestRejectTransition(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, s.Prepare(ctx, testPrepare("t1"), "", true))
	require.NoError(t, s.Reject(ctx, "t1", envelope.NewErrorInformation(envelope.CodeValidation, "rejected", nil)))

	var state, err = s.GetTransferStateChange(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, TransferStateAborted, state)

	// ABORTED is terminal.
	require.ErrorIs(t, s.Fulfil(ctx, "t1", Fulfilment{Fulfilment: "x"}), ErrNotReserved)
}

func TestFulfilOfUnknownTransfer(t *testing.T) {
	var s = newTestStore(t)
	require.ErrorIs(t, s.Fulfil(context.Background(), "nope", Fulfilment{}), ErrNotReserved)
}

func TestGetByIDAbsent(t *testing.T) {
	var s = newTestStore(t)
	var transfer, err = s.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, transfer)

	state, err := s.GetTransferStateChange(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, TransferState(""), state)
}

func TestLogTransferError(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	require.NoError(t, s.LogTransferError(ctx, "t1", envelope.CodeValidation, "validation failed"))

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM transfer_error WHERE transfer_id = 't1' AND error_code = 3100;`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestParticipants(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	var names, err = s.ParticipantNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, s.UpsertParticipant(ctx, Participant{Name: "dfspB", IsActive: true, Currencies: []string{"USD", "EUR"}}))
	require.NoError(t, s.UpsertParticipant(ctx, Participant{Name: "dfspA", IsActive: true, Currencies: []string{"USD"}}))

	names, err = s.ParticipantNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"dfspA", "dfspB"}, names)

	p, err := s.GetParticipant(ctx, "dfspB")
	require.NoError(t, err)
	require.True(t, p.IsActive)
	require.Equal(t, []string{"USD", "EUR"}, p.Currencies)

	// Deactivation round-trips.
	require.NoError(t, s.UpsertParticipant(ctx, Participant{Name: "dfspB", IsActive: false, Currencies: []string{"USD"}}))
	p, err = s.GetParticipant(ctx, "dfspB")
	require.NoError(t, err)
	require.False(t, p.IsActive)

	p, err = s.GetParticipant(ctx, "dfspX")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestConsumerOffsets(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	var offset, err = s.ReadOffset(ctx, "topic-transfer-fulfil")
	require.NoError(t, err)
	require.Zero(t, offset)

	require.NoError(t, s.CommitOffset(ctx, "topic-transfer-fulfil", 42))
	require.NoError(t, s.CommitOffset(ctx, "topic-transfer-fulfil", 99))

	offset, err = s.ReadOffset(ctx, "topic-transfer-fulfil")
	require.NoError(t, err)
	require.Equal(t, int64(99), offset)
}
