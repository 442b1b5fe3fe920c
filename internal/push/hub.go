// Package push delivers payment events from the gateway's push channel to
// the settlement machines waiting for them.
//
// A single Hub owns the shared connection. Each pending order subscribes
// with its own disposable handle, so tearing down one settlement never
// affects another.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 8

// DefaultRetention is how long an issued QR code is kept for orders nobody
// has subscribed to yet. The gateway may announce the QR before the
// checkout response reaches the terminal.
const DefaultRetention = time.Minute

// Handler processes one raw message. A non-nil error stops the source.
type Handler func(ctx context.Context, data []byte) error

// Source is a push transport.
type Source interface {
	// Listen delivers messages to h until ctx is done or the transport
	// fails. It returns nil on cancellation.
	Listen(ctx context.Context, h Handler) error
}

type subscription struct {
	ch   chan settlement.Event
	once sync.Once
}

// Hub fans push events out to per-order subscribers.
type Hub struct {
	lg     *zap.Logger
	buffer int

	mu       sync.Mutex
	subs     map[string]map[*subscription]struct{}
	retained map[string]retainedEvent

	retention time.Duration
	now       func() time.Time
	dropped   func(settlement.Event)
}

type retainedEvent struct {
	ev      settlement.Event
	expires time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithRetention sets how long issued QR codes are replayed to late
// subscribers. Zero disables replay.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) { h.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// WithDropHook is called for every event dropped because a subscriber
// queue was full.
func WithDropHook(f func(settlement.Event)) HubOption {
	return func(h *Hub) { h.dropped = f }
}

// NewHub creates an empty Hub.
func NewHub(lg *zap.Logger, opts ...HubOption) *Hub {
	if lg == nil {
		lg = zap.NewNop()
	}
	h := &Hub{
		lg:        lg,
		buffer:    DefaultBuffer,
		subs:      make(map[string]map[*subscription]struct{}),
		retained:  make(map[string]retainedEvent),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

var _ settlement.Subscriber = (*Hub)(nil)

// Subscribe registers interest in orderID. A QR code issued for the order
// within the retention window is delivered first. The returned function
// removes the subscription and closes the channel; it is safe to call more
// than once.
func (h *Hub) Subscribe(orderID string) (<-chan settlement.Event, func()) {
	sub := &subscription{ch: make(chan settlement.Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[orderID] = set
	}
	set[sub] = struct{}{}
	if r, ok := h.retained[orderID]; ok && h.now().Before(r.expires) {
		sub.ch <- r.ev
	}
	h.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[orderID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, orderID)
				}
			}
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Publish delivers ev to the subscribers of its order without blocking.
// It reports how many subscribers received it. Issued QR codes are also
// retained for subscribers that arrive later.
func (h *Hub) Publish(ev settlement.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.retain(ev)

	delivered := 0
	for sub := range h.subs[ev.OrderID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.lg.Warn("Subscriber queue full, dropping push event",
				zap.String("order_id", ev.OrderID),
				zap.Stringer("kind", ev.Kind),
			)
			if h.dropped != nil {
				h.dropped(ev)
			}
		}
	}
	return delivered
}

// retain keeps the latest QR of an order and evicts expired ones.
// Called with h.mu held.
func (h *Hub) retain(ev settlement.Event) {
	if h.retention <= 0 {
		return
	}
	now := h.now()
	for id, r := range h.retained {
		if !now.Before(r.expires) {
			delete(h.retained, id)
		}
	}
	if ev.Kind == settlement.KindQRIssued && ev.OrderID != "" {
		h.retained[ev.OrderID] = retainedEvent{ev: ev, expires: now.Add(h.retention)}
	}
}

// Run pumps src into the hub until ctx is done.
func (h *Hub) Run(ctx context.Context, src Source) error {
	if err := src.Listen(ctx, h.handle); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// handle decodes one message. Malformed and foreign messages are logged
// and skipped so they never block the stream.
func (h *Hub) handle(_ context.Context, data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		h.lg.Warn("Malformed push message", zap.Error(err), zap.ByteString("data", truncate(data, 256)))
		return nil
	}
	ev, err := env.Event()
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			h.lg.Debug("Skipping push event", zap.String("event_type", env.EventType))
			return nil
		}
		h.lg.Warn("Invalid push event", zap.Error(err), zap.String("event_id", env.EventID))
		return nil
	}

	n := h.Publish(ev)
	h.lg.Debug("Push event dispatched",
		zap.String("event_id", ev.ID),
		zap.String("order_id", ev.OrderID),
		zap.Stringer("kind", ev.Kind),
		zap.Int("subscribers", n),
	)
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
