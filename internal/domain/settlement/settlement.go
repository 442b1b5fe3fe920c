// Package settlement tracks the outcome of one asynchronous QR payment.
//
// A Settlement is owned by exactly one Machine. Push events, poll results and
// countdown ticks are merged into the machine's single consumer loop and each
// of them goes through Apply, which refuses any change once a terminal status
// has been reached. Redundant delivery from the push and poll sources is
// therefore harmless: whichever arrives first wins.
package settlement

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a settlement.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// DefaultTimeout is how long a pending QR payment is observed before it
// expires.
const DefaultTimeout = 300 * time.Second

// Settlement is the tracked outcome of one checkout attempt.
type Settlement struct {
	OrderID   string
	Status    Status
	QRPayload string
	// Method is the payment method reported by the gateway on success.
	Method string
	// Error holds the failure reason reported by the gateway, if any.
	Error     string
	Remaining time.Duration
}

// AwaitingQR reports whether the order is pending and the gateway has not
// issued a QR code yet.
func (s Settlement) AwaitingQR() bool {
	return s.Status == StatusPending && s.QRPayload == ""
}

// RemainingSeconds returns the countdown in whole seconds.
func (s Settlement) RemainingSeconds() int {
	return int(s.Remaining / time.Second)
}

// Kind identifies what an Event reports.
type Kind int

const (
	KindQRIssued Kind = iota + 1
	KindPaymentSucceeded
	KindPaymentFailed
	// KindPollStatus carries the status returned by a poll query.
	KindPollStatus
	// KindTick is one second of the countdown clock.
	KindTick
)

func (k Kind) String() string {
	switch k {
	case KindQRIssued:
		return "qr_issued"
	case KindPaymentSucceeded:
		return "payment_succeeded"
	case KindPaymentFailed:
		return "payment_failed"
	case KindPollStatus:
		return "poll_status"
	case KindTick:
		return "tick"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source identifies the producer of an Event.
type Source int

const (
	SourcePush Source = iota + 1
	SourcePoll
	SourceClock
)

func (s Source) String() string {
	switch s {
	case SourcePush:
		return "push"
	case SourcePoll:
		return "poll"
	case SourceClock:
		return "clock"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Event is an observation about an order from any producer.
type Event struct {
	ID      string
	Kind    Kind
	Source  Source
	OrderID string

	QRPayload string
	Method    string
	Message   string
	// Status is set for KindPollStatus.
	Status Status
}

// Outcome describes what Apply did with an event.
type Outcome int

const (
	// Ignored events carried nothing new, such as a poll still reporting PENDING.
	Ignored Outcome = iota
	// Updated events changed a pending settlement without finishing it.
	Updated
	// Settled events moved the settlement into a terminal status.
	Settled
	// Discarded events targeted another order or arrived after the
	// settlement had already finished.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Updated:
		return "updated"
	case Settled:
		return "settled"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Apply is the only transition function of a settlement. It returns the
// next state and what happened. A terminal settlement is returned unchanged
// for every event.
func Apply(s Settlement, ev Event) (Settlement, Outcome) {
	if ev.OrderID != s.OrderID || s.Status.IsTerminal() {
		return s, Discarded
	}

	switch ev.Kind {
	case KindQRIssued:
		if ev.QRPayload == "" || ev.QRPayload == s.QRPayload {
			return s, Ignored
		}
		s.QRPayload = ev.QRPayload
		return s, Updated
	case KindPaymentSucceeded:
		return settle(s, StatusPaid, ev), Settled
	case KindPaymentFailed:
		return settle(s, StatusFailed, ev), Settled
	case KindPollStatus:
		switch ev.Status {
		case StatusPaid, StatusFailed:
			return settle(s, ev.Status, ev), Settled
		default:
			return s, Ignored
		}
	case KindTick:
		s.Remaining -= time.Second
		if s.Remaining <= 0 {
			s.Remaining = 0
			s.Status = StatusExpired
			return s, Settled
		}
		return s, Updated
	default:
		return s, Ignored
	}
}

func settle(s Settlement, status Status, ev Event) Settlement {
	s.Status = status
	if ev.Method != "" {
		s.Method = ev.Method
	}
	if status == StatusFailed {
		s.Error = ev.Message
	}
	return s
}

// RetryAfterError is returned by a StatusQuerier when the backend asks the
// caller to slow down.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("status query throttled, retry after %s", e.After)
}
