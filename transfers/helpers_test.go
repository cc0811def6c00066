package transfers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/bus/bustest"
	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/validate"
)

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

var testPreimage = []byte("0123456789abcdef0123456789abcdef")

func testFulfilment() string { return b64.EncodeToString(testPreimage) }

func testCondition() string {
	var digest = sha256.Sum256(testPreimage)
	return b64.EncodeToString(digest[:])
}

// fixture is a wired pipeline test bed: in-memory store, fake bus, and the
// three handlers bound to their topics for participants dfspA and dfspB.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	bus     *bustest.Bus
	store   *store.SQLite
	prepare *PrepareHandler
	fulfil  *FulfilHandler
	router  *TransferEventRouter
}

func newFixture(t *testing.T) *fixture {
	var ctx = context.Background()

	var st, err = store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for _, p := range []store.Participant{
		{Name: "dfspA", IsActive: true, Currencies: []string{"USD"}},
		{Name: "dfspB", IsActive: true, Currencies: []string{"USD"}},
	} {
		require.NoError(t, st.UpsertParticipant(ctx, p))
	}

	var b = bustest.New()
	validator, err := validate.NewByName(st)
	require.NoError(t, err)

	var f = &fixture{
		t:       t,
		ctx:     ctx,
		bus:     b,
		store:   st,
		prepare: NewPrepareHandler(b, st, validator),
		fulfil:  NewFulfilHandler(b, st),
		router:  NewTransferEventRouter(b),
	}
	for _, participant := range []string{"dfspA", "dfspB"} {
		var topic = bus.PrepareTopic(participant)
		require.NoError(t, b.CreateHandler(ctx, topic,
			bus.ConsumerConfig{ClientID: topic}, f.prepare.Handle))
	}
	require.NoError(t, b.CreateHandler(ctx, bus.TopicFulfil,
		bus.ConsumerConfig{ClientID: bus.TopicFulfil}, f.fulfil.Handle))
	require.NoError(t, b.CreateHandler(ctx, bus.TopicTransfer,
		bus.ConsumerConfig{ClientID: bus.TopicTransfer}, f.router.Handle))
	return f
}

func (f *fixture) preparePayload(id string) envelope.TransferPrepare {
	return envelope.TransferPrepare{
		TransferID:     id,
		PayerFsp:       "dfspA",
		PayeeFsp:       "dfspB",
		Amount:         envelope.Amount{Currency: "USD", Amount: "100.00"},
		ILPPacket:      "AQAAAAAAAADIEHByaXZhdGUucGF5ZWVmc3A",
		Condition:      testCondition(),
		ExpirationDate: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		ExtensionList:  []envelope.Extension{},
	}
}

func (f *fixture) prepareEnvelope(p envelope.TransferPrepare) *envelope.Envelope {
	var env, err = envelope.New(p.TransferID, p.PayerFsp, p.PayeeFsp, p)
	require.NoError(f.t, err)
	return env.WithEvent(envelope.TypeTransfer, envelope.ActionPrepare, envelope.SuccessState)
}

func (f *fixture) fulfilEnvelope(transferID, action, fulfilment string) *envelope.Envelope {
	var env, err = envelope.New(transferID, "dfspB", "switch", envelope.TransferFulfil{
		Fulfilment:         fulfilment,
		CompletedTimestamp: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(f.t, err)
	return env.WithEvent(envelope.TypeFulfil, action, envelope.SuccessState)
}

// reserve runs a happy prepare of id, leaving the transfer RESERVED.
func (f *fixture) reserve(id string) {
	var p = f.preparePayload(id)
	require.NoError(f.t, f.bus.Deliver(f.ctx, bus.PrepareTopic(p.PayerFsp), f.prepareEnvelope(p), 1))

	var state, err = f.store.GetTransferStateChange(f.ctx, id)
	require.NoError(f.t, err)
	require.Equal(f.t, store.TransferStateReserved, state)
}

// lastNotification returns the most recent notification produce.
func (f *fixture) lastNotification() *envelope.Envelope {
	var produced = f.bus.Produced(bus.TopicNotification)
	require.NotEmpty(f.t, produced)
	return produced[len(produced)-1]
}

func (f *fixture) requireNotifiedFailure(code int) *envelope.Envelope {
	var env = f.lastNotification()
	require.Equal(f.t, envelope.StatusFailure, env.Metadata.Event.State.Status)
	require.Equal(f.t, code, env.Metadata.Event.State.Code)

	var payload envelope.ErrorPayload
	require.NoError(f.t, env.DecodePayload(&payload))
	require.Equal(f.t, code, payload.ErrorInformation.ErrorCode)
	return env
}
