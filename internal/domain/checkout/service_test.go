package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kasir-checkout/internal/domain/basket"
	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// --- Mock implementations ---

type mockSubmitter struct {
	mu    sync.Mutex
	calls []Request
	resp  *Response
	err   error
}

func (m *mockSubmitter) Submit(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.resp, m.err
}

func (m *mockSubmitter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type stillTicker struct{ c chan time.Time }

func (t stillTicker) C() <-chan time.Time { return t.c }
func (t stillTicker) Stop()               {}

type pushSubscriber struct {
	ch chan settlement.Event
}

func (p *pushSubscriber) Subscribe(string) (<-chan settlement.Event, func()) {
	return p.ch, func() {}
}

// --- Helpers ---

func newSnapshot(t *testing.T) basket.Snapshot {
	t.Helper()

	products := []pricing.Product{{ID: "p-1", Name: "Beras 5kg", BasePrice: 10000, Stock: 10}}
	engine := pricing.NewEngine([]pricing.MarginRule{
		{Tier: pricing.TierMember, Type: pricing.MarginPercent, Value: decimal.NewFromInt(10)},
	})
	b := basket.New(products, engine)
	b.SetTier(pricing.TierMember)
	require.True(t, b.SetQuantity("p-1", 3))
	return b.Snapshot()
}

func newService(sub *mockSubmitter, push *pushSubscriber) *Service {
	tracker := settlement.NewTracker(push, nil, nil,
		settlement.WithTicker(func(time.Duration) settlement.Ticker {
			return stillTicker{c: make(chan time.Time)}
		}),
	)
	s := NewService(sub, tracker, nil)
	s.newKey = func() string { return "key-1" }
	return s
}

var member = catalog.Member{ID: "m-1", Name: "Siti", Tier: pricing.TierMember}

// --- Tests ---

func TestSubmit_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		empty   bool
		wantErr error
	}{
		{name: "short pin", pin: "12345", wantErr: ErrInvalidPIN},
		{name: "long pin", pin: "1234567", wantErr: ErrInvalidPIN},
		{name: "letters", pin: "12a456", wantErr: ErrInvalidPIN},
		{name: "empty pin", pin: "", wantErr: ErrInvalidPIN},
		{name: "unicode digits", pin: "١٢٣٤٥٦", wantErr: ErrInvalidPIN},
		{name: "empty basket", pin: "123456", empty: true, wantErr: ErrEmptyBasket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubmitter{resp: &Response{OrderID: "o-1"}}
			s := newService(sub, nil)

			snap := newSnapshot(t)
			if tt.empty {
				snap = basket.Snapshot{Tier: pricing.TierNonMember}
			}

			res, err := s.Submit(context.Background(), snap, member, Cash{}, tt.pin, settlement.Hooks{})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Zero(t, sub.callCount(), "no network call on precondition failure")
		})
	}
}

func TestSubmit_CashIsPaidImmediately(t *testing.T) {
	sub := &mockSubmitter{resp: &Response{OrderID: "o-cash"}}
	s := newService(sub, nil)

	res, err := s.Submit(context.Background(), newSnapshot(t), member, Cash{}, "123456", settlement.Hooks{})
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, res.Settlement.Status)
	assert.Equal(t, "o-cash", res.Settlement.OrderID)
	assert.Nil(t, res.Machine, "cash has no tracking")

	require.Equal(t, 1, sub.callCount())
	req := sub.calls[0]
	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Equal(t, "m-1", req.MemberID)
	assert.Equal(t, pricing.TierMember, req.Tier)
	assert.Equal(t, Cash{}, req.Method)
	assert.Equal(t, []Line{{ProductID: "p-1", Quantity: 3, UnitPrice: 11000, UnitBase: 10000}}, req.Lines)
	assert.Equal(t, basket.Summary{Subtotal: 30000, TotalMargin: 3000, GrandTotal: 33000}, req.Summary)
}

func TestSubmit_QRISPendingThenPushFailed(t *testing.T) {
	push := &pushSubscriber{ch: make(chan settlement.Event)}
	sub := &mockSubmitter{resp: &Response{OrderID: "o-qr", QRCode: "000201..."}}
	s := newService(sub, push)

	terminal := make(chan settlement.Settlement, 1)
	res, err := s.Submit(context.Background(), newSnapshot(t), member, QRIS{}, "123456", settlement.Hooks{
		OnTerminal: func(st settlement.Settlement) { terminal <- st },
	})
	require.NoError(t, err)
	require.NotNil(t, res.Machine)
	t.Cleanup(res.Machine.Cancel)

	assert.Equal(t, settlement.StatusPending, res.Settlement.Status)
	assert.Equal(t, "000201...", res.Settlement.QRPayload)
	assert.False(t, res.Settlement.AwaitingQR())

	push.ch <- settlement.Event{
		Kind:    settlement.KindPaymentFailed,
		Source:  settlement.SourcePush,
		OrderID: "o-qr",
		Message: "insufficient balance",
	}

	select {
	case st := <-terminal:
		assert.Equal(t, settlement.StatusFailed, st.Status)
		assert.Equal(t, "insufficient balance", st.Error)
	case <-time.After(time.Second):
		t.Fatal("settlement did not reach a terminal status")
	}
}

func TestSubmit_QRISAwaitingQR(t *testing.T) {
	sub := &mockSubmitter{resp: &Response{OrderID: "o-async"}}
	s := newService(sub, &pushSubscriber{ch: make(chan settlement.Event)})

	res, err := s.Submit(context.Background(), newSnapshot(t), member, QRIS{}, "123456", settlement.Hooks{})
	require.NoError(t, err)
	t.Cleanup(res.Machine.Cancel)

	assert.True(t, res.Settlement.AwaitingQR())
	assert.Equal(t, "o-async", res.Machine.OrderID())
}

func TestSubmit_QRISWithoutOrderID(t *testing.T) {
	sub := &mockSubmitter{resp: &Response{}}
	s := newService(sub, nil)

	_, err := s.Submit(context.Background(), newSnapshot(t), member, QRIS{}, "123456", settlement.Hooks{})
	require.Error(t, err)
}

func TestSubmit_RemoteErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{
			name:        "gateway not provisioned",
			err:         &RemoteError{StatusCode: 422, Message: "QRIS payment gateway is not configured for this merchant"},
			unavailable: true,
		},
		{
			name:        "indonesian message",
			err:         &RemoteError{StatusCode: 400, Message: "Layanan QRIS belum diaktifkan"},
			unavailable: true,
		},
		{
			name: "declined",
			err:  &RemoteError{StatusCode: 402, Message: "payment declined"},
		},
		{
			name: "unrelated unavailable",
			err:  &RemoteError{StatusCode: 409, Message: "product stock not available"},
		},
		{
			name: "transport",
			err:  errors.New("dial tcp: connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(&mockSubmitter{err: tt.err}, nil)

			_, err := s.Submit(context.Background(), newSnapshot(t), member, QRIS{}, "123456", settlement.Hooks{})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrGatewayUnavailable))

			var remote *RemoteError
			if errors.As(tt.err, &remote) {
				require.ErrorAs(t, err, &remote)
			}
		})
	}
}

func TestSubmit_FreshIdempotencyKeyPerCall(t *testing.T) {
	sub := &mockSubmitter{resp: &Response{OrderID: "o-1"}}
	s := NewService(sub, nil, nil)

	for range 2 {
		_, err := s.Submit(context.Background(), newSnapshot(t), catalog.NonMember, Cash{}, "123456", settlement.Hooks{})
		require.NoError(t, err)
	}
	require.Equal(t, 2, sub.callCount())
	assert.NotEmpty(t, sub.calls[0].IdempotencyKey)
	assert.NotEqual(t, sub.calls[0].IdempotencyKey, sub.calls[1].IdempotencyKey)
	assert.Empty(t, sub.calls[0].MemberID)
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"cash":   Cash{},
		"CASH":   Cash{},
		"tunai":  Cash{},
		"qris":   QRIS{},
		" QR ":   QRIS{},
		"QRIS\n": QRIS{},
	} {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMethod("card")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
