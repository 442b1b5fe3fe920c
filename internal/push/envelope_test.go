package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

func TestEnvelope_Event(t *testing.T) {
	tests := []struct {
		name string
		data string
		want settlement.Event
	}{
		{
			name: "qr issued",
			data: `{"event_id":"e1","event_type":"qr.issued","occurred_at":"2026-01-02T03:04:05Z","payload":{"order_id":"o-1","qr_code":"000201"}}`,
			want: settlement.Event{ID: "e1", Kind: settlement.KindQRIssued, Source: settlement.SourcePush, OrderID: "o-1", QRPayload: "000201"},
		},
		{
			name: "succeeded with method",
			data: `{"event_id":"e2","event_type":"payment.succeeded","occurred_at":"2026-01-02T03:04:05Z","payload":{"order_id":"o-1","payment_method":"QRIS"}}`,
			want: settlement.Event{ID: "e2", Kind: settlement.KindPaymentSucceeded, Source: settlement.SourcePush, OrderID: "o-1", Method: "QRIS"},
		},
		{
			name: "failed with reason",
			data: `{"event_id":"e3","event_type":"payment.failed","occurred_at":"2026-01-02T03:04:05Z","payload":{"order_id":"o-1","reason":"expired card"}}`,
			want: settlement.Event{ID: "e3", Kind: settlement.KindPaymentFailed, Source: settlement.SourcePush, OrderID: "o-1", Message: "expired card"},
		},
		{
			name: "order from correlation id",
			data: `{"event_id":"e4","event_type":"payment.succeeded","occurred_at":"2026-01-02T03:04:05Z","correlation_id":"o-9","payload":{}}`,
			want: settlement.Event{ID: "e4", Kind: settlement.KindPaymentSucceeded, Source: settlement.SourcePush, OrderID: "o-9"},
		},
		{
			name: "unknown fields skipped",
			data: `{"event_type":"qr.issued","trace_id":"t","occurred_at":"2026-01-02T03:04:05Z","payload":{"order_id":"o-1","qr_payload":"abc","amount":{"v":1}}}`,
			want: settlement.Event{Kind: settlement.KindQRIssued, Source: settlement.SourcePush, OrderID: "o-1", QRPayload: "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.data))
			require.NoError(t, err)
			got, err := env.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelope_Errors(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	require.Error(t, err, "event_type is required")

	env, err := DecodeEnvelope([]byte(`{"event_type":"order.created","payload":{"order_id":"o-1"}}`))
	require.NoError(t, err)
	_, err = env.Event()
	require.ErrorIs(t, err, ErrUnknownType)

	env, err = DecodeEnvelope([]byte(`{"event_type":"payment.succeeded","payload":{}}`))
	require.NoError(t, err)
	_, err = env.Event()
	require.Error(t, err, "order id is required")
}

func TestEnvelope_EncodeDecode(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	env := Envelope{
		EventID:       "e1",
		EventType:     TypePaymentFailed,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      "qris-gateway",
		CorrelationID: "o-1",
		Payload:       EncodePayload(Payload{OrderID: "o-1", Message: "declined"}),
	}

	got, err := DecodeEnvelope(env.Encode())
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.EventType, got.EventType)
	assert.Equal(t, 1, got.EventVersion)
	assert.True(t, at.Equal(got.OccurredAt))
	assert.Equal(t, "qris-gateway", got.Producer)

	ev, err := got.Event()
	require.NoError(t, err)
	assert.Equal(t, "declined", ev.Message)
}
