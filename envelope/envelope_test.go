package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeWireShape(t *testing.T) {
	var env, err = New("t1", "dfspA", "dfspB", TransferPrepare{
		TransferID: "t1",
		PayerFsp:   "dfspA",
		PayeeFsp:   "dfspB",
		Amount:     Amount{Currency: "USD", Amount: "100.00"},
	})
	require.NoError(t, err)
	env.WithEvent(TypeTransfer, ActionPrepare, SuccessState)

	var raw []byte
	raw, err = json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, "t1", decoded["id"])
	require.Equal(t, "dfspA", decoded["from"])
	require.Equal(t, "dfspB", decoded["to"])

	var content = decoded["content"].(map[string]interface{})
	var payload = content["payload"].(map[string]interface{})
	require.Equal(t, "t1", payload["transferId"])

	var event = decoded["metadata"].(map[string]interface{})["event"].(map[string]interface{})
	require.Equal(t, "transfer", event["type"])
	require.Equal(t, "prepare", event["action"])
	require.Equal(t, "success", event["state"].(map[string]interface{})["status"])
	require.NotEmpty(t, event["id"])

	// metadata.event.createdAt is RFC 3339 UTC.
	_, err = time.Parse(time.RFC3339, event["createdAt"].(string))
	require.NoError(t, err)
}

func TestEnvelopeRoundTripPreservesPayload(t *testing.T) {
	// Payload fields this core doesn't model must survive re-serialization.
	var in = []byte(`{"id":"t9","from":"dfspA","to":"switch",` +
		`"content":{"payload":{"transferId":"t9","customField":{"nested":true}}},` +
		`"metadata":{"event":{"id":"e1","type":"transfer","action":"prepare",` +
		`"state":{"status":"success"},"createdAt":"2026-01-02T03:04:05Z"}}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(in, &env))

	var out, err = json.Marshal(&env)
	require.NoError(t, err)
	require.Contains(t, string(out), `"customField":{"nested":true}`)
}

func TestErrorInformation(t *testing.T) {
	var cases = []struct {
		code   int
		detail string
		expect string
	}{
		{CodeInternal, "", "Internal server error"},
		{CodeValidation, "payer FSP dfspX does not exist", "Generic validation error: payer FSP dfspX does not exist"},
		{CodeModifiedRequest, "", "Modified request"},
		{CodeTransferExpired, "", "Transfer expired"},
	}
	for _, tc := range cases {
		var info = NewErrorInformation(tc.code, tc.detail, nil)
		require.Equal(t, tc.code, info.ErrorCode)
		require.Equal(t, tc.expect, info.ErrorDescription)
	}

	// Extensions are copied verbatim from the request when present.
	var info = NewErrorInformation(CodeValidation, "", []Extension{{Key: "k", Value: "v"}})
	require.Equal(t, []Extension{{Key: "k", Value: "v"}}, info.ExtensionList)
}
