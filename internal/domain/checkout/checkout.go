// Package checkout submits a priced basket to the payment backend and
// settles it according to the chosen payment method.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kasir-checkout/internal/domain/basket"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// Precondition errors. They are reported before any network call.
var (
	ErrInvalidPIN  = errors.New("PIN must be exactly 6 digits")
	ErrEmptyBasket = errors.New("basket is empty")
)

// ErrGatewayUnavailable is matched by errors from a backend whose QR payment
// facility is not provisioned. Retrying QRIS is pointless; the operator
// should fall back to another payment method.
var ErrGatewayUnavailable = errors.New("QRIS payment is not available for this merchant")

// ErrUnknownMethod is returned by ParseMethod.
var ErrUnknownMethod = errors.New("unknown payment method")

// RemoteError is a rejection reported by the checkout backend.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("checkout rejected: %s", e.Message)
	}
	return fmt.Sprintf("checkout rejected (%d): %s", e.StatusCode, e.Message)
}

// Is matches ErrGatewayUnavailable when the message says the QR facility is
// missing rather than the payment being declined.
func (e *RemoteError) Is(target error) bool {
	return target == ErrGatewayUnavailable && gatewayUnavailable(e.Message)
}

var unavailableMarkers = []string{
	"not available",
	"unavailable",
	"not configured",
	"not provisioned",
	"not activated",
	"not enabled",
	"tidak tersedia",
	"belum diaktifkan",
	"belum dikonfigurasi",
}

func gatewayUnavailable(msg string) bool {
	msg = strings.ToLower(msg)
	if !strings.Contains(msg, "qris") && !strings.Contains(msg, "qr ") && !strings.Contains(msg, "gateway") {
		return false
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Method is a payment method. The set of implementations is closed: Cash and
// QRIS.
type Method interface {
	fmt.Stringer
	settle(ctx context.Context, s *Service, resp *Response, hooks settlement.Hooks) (*Result, error)
}

// Cash settles synchronously at the counter.
type Cash struct{}

// QRIS settles asynchronously through a QR push payment.
type QRIS struct{}

func (Cash) String() string { return "CASH" }
func (QRIS) String() string { return "QRIS" }

// ParseMethod maps operator input to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CASH", "TUNAI":
		return Cash{}, nil
	case "QRIS", "QR":
		return QRIS{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Line is one basket line as sent to the backend.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice int64
	UnitBase  int64
}

// Request is a checkout submission.
type Request struct {
	IdempotencyKey string
	MemberID       string
	Tier           pricing.Tier
	Method         Method
	PIN            string
	Lines          []Line
	Summary        basket.Summary
}

// Response is the backend's answer to an accepted submission.
type Response struct {
	OrderID string
	// QRCode is empty when the gateway issues it asynchronously.
	QRCode string
}

// Submitter sends checkout requests to the backend. A rejection carrying a
// human-readable message is reported as *RemoteError.
type Submitter interface {
	Submit(ctx context.Context, req Request) (*Response, error)
}

// Result is the outcome of a successful submission.
type Result struct {
	Settlement settlement.Settlement
	// Machine tracks a pending QRIS settlement. It is nil for cash.
	Machine *settlement.Machine
}
