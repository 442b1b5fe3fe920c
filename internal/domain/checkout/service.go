package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kasir-checkout/internal/domain/basket"
	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// Tracker starts settlement tracking for a pending order.
type Tracker interface {
	Start(ctx context.Context, orderID, qr string, hooks settlement.Hooks) *settlement.Machine
}

// Service orchestrates checkout submission.
type Service struct {
	submitter Submitter
	tracker   Tracker
	lg        *zap.Logger
	newKey    func() string
}

// NewService creates a checkout Service.
func NewService(submitter Submitter, tracker Tracker, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		submitter: submitter,
		tracker:   tracker,
		lg:        lg,
		newKey:    func() string { return uuid.New().String() },
	}
}

// Submit validates the PIN and basket locally, submits the checkout and
// settles it according to method. Cash is PAID on return. QRIS returns a
// PENDING settlement whose Machine reports the outcome through hooks.
func (s *Service) Submit(
	ctx context.Context,
	snap basket.Snapshot,
	member catalog.Member,
	method Method,
	pin string,
	hooks settlement.Hooks,
) (*Result, error) {
	if !validPIN(pin) {
		return nil, ErrInvalidPIN
	}
	if snap.Empty() {
		return nil, ErrEmptyBasket
	}
	if method == nil {
		return nil, ErrUnknownMethod
	}

	req := Request{
		IdempotencyKey: s.newKey(),
		MemberID:       member.ID,
		Tier:           snap.Tier,
		Method:         method,
		PIN:            pin,
		Lines:          make([]Line, len(snap.Lines)),
		Summary:        snap.Summary,
	}
	for i, l := range snap.Lines {
		req.Lines[i] = Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			UnitBase:  l.UnitBase,
		}
	}

	lg := s.lg.With(
		zap.Stringer("method", method),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	resp, err := s.submitter.Submit(ctx, req)
	if err != nil {
		lg.Warn("Checkout submission failed", zap.Error(err))
		return nil, errors.Wrap(err, "submit checkout")
	}
	lg.Info("Checkout accepted",
		zap.String("order_id", resp.OrderID),
		zap.Int64("grand_total", req.Summary.GrandTotal),
	)

	return method.settle(ctx, s, resp, hooks)
}

func (Cash) settle(_ context.Context, _ *Service, resp *Response, _ settlement.Hooks) (*Result, error) {
	return &Result{Settlement: settlement.Settlement{
		OrderID: resp.OrderID,
		Status:  settlement.StatusPaid,
		Method:  Cash{}.String(),
	}}, nil
}

func (QRIS) settle(ctx context.Context, s *Service, resp *Response, hooks settlement.Hooks) (*Result, error) {
	if resp.OrderID == "" {
		return nil, errors.New("backend accepted QRIS checkout without an order id")
	}
	m := s.tracker.Start(ctx, resp.OrderID, resp.QRCode, hooks)
	return &Result{Settlement: m.Current(), Machine: m}, nil
}

func validPIN(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for i := range len(pin) {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
