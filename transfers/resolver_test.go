package transfers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
)

func TestResolveDuplicate(t *testing.T) {
	var f = newFixture(t)
	var ctx = context.Background()

	var resolve = func(p envelope.TransferPrepare) Resolution {
		var res, err = ResolveDuplicate(ctx, f.store, &p)
		require.NoError(t, err)
		return res
	}

	// First sighting is NEW (and registers the fingerprint).
	var p = f.preparePayload("t1")
	require.Equal(t, ClassificationNew, resolve(p).Classification)

	// A matching hash with no recorded state is an anomaly.
	require.Equal(t, ClassificationAnomaly, resolve(p).Classification)

	// Once prepared, a matching replay is in-flight for RESERVED.
	require.NoError(t, f.store.Prepare(ctx, &p, "", true))
	require.Equal(t, ClassificationInFlight, resolve(p).Classification)

	// A different payload under the same transferId is modified.
	var modified = f.preparePayload("t1")
	modified.Amount.Amount = "100.01"
	require.Equal(t, ClassificationModified, resolve(modified).Classification)

	// Finalized transfers replay with their snapshot.
	require.NoError(t, f.store.Fulfil(ctx, "t1", store.Fulfilment{Fulfilment: testFulfilment()}))
	var res = resolve(p)
	require.Equal(t, ClassificationFinalizedReplay, res.Classification)
	require.NotNil(t, res.Transfer)
	require.Equal(t, store.TransferStateCommitted, res.Transfer.State)

	// An aborted transfer is equally a finalized replay.
	var q = f.preparePayload("t2")
	require.Equal(t, ClassificationNew, resolve(q).Classification)
	require.NoError(t, f.store.Prepare(ctx, &q, "", true))
	require.NoError(t, f.store.Reject(ctx, "t2", envelope.NewErrorInformation(envelope.CodeValidation, "", nil)))
	require.Equal(t, ClassificationFinalizedReplay, resolve(q).Classification)
}
