package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// DefaultPollInterval is the period of status queries while a settlement is
// pending.
const DefaultPollInterval = 3 * time.Second

// Subscriber delivers push events for one order. The returned function
// disposes of the subscription; it must be safe to call more than once.
type Subscriber interface {
	Subscribe(orderID string) (<-chan Event, func())
}

// StatusQuerier reports the backend's view of an order.
type StatusQuerier interface {
	Status(ctx context.Context, orderID string) (Status, error)
}

// Observer is told about every event the consumer loop handles.
type Observer interface {
	Observe(ev Event, out Outcome, s Settlement)
}

// Ticker is the subset of time.Ticker the machine needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Hooks are invoked from the machine's consumer goroutine. They must not
// block and must not call Cancel.
type Hooks struct {
	// OnChange is called after every update of a pending settlement and
	// after the terminal transition.
	OnChange func(Settlement)
	// OnTerminal is called exactly once when a terminal status is reached.
	// It is not called when tracking is cancelled.
	OnTerminal func(Settlement)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.pollInterval = d }
}

// WithObserver registers an Observer for every machine the tracker starts.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithTicker replaces the ticker factory used for the countdown clock and
// the poll loop.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(t *Tracker) { t.newTicker = f }
}

// Tracker starts settlement machines over a shared push subscriber and
// status querier. Either collaborator may be nil, in which case that
// producer is not started.
type Tracker struct {
	subs    Subscriber
	querier StatusQuerier
	lg      *zap.Logger

	timeout      time.Duration
	pollInterval time.Duration
	observer     Observer
	newTicker    func(time.Duration) Ticker
}

// NewTracker creates a Tracker.
func NewTracker(subs Subscriber, querier StatusQuerier, lg *zap.Logger, opts ...Option) *Tracker {
	if lg == nil {
		lg = zap.NewNop()
	}
	t := &Tracker{
		subs:         subs,
		querier:      querier,
		lg:           lg,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		newTicker:    newTimeTicker,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Machine owns the lifecycle of one pending order.
type Machine struct {
	orderID  string
	hooks    Hooks
	observer Observer
	lg       *zap.Logger

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu    sync.RWMutex
	state Settlement
}

// Start begins tracking orderID. The settlement starts PENDING with qr as
// its QR payload, which may be empty while the gateway is still issuing it.
// Tracking ends on the first terminal status, on Cancel, or when ctx is done.
func (t *Tracker) Start(ctx context.Context, orderID, qr string, hooks Hooks) *Machine {
	ctx, cancel := context.WithCancel(ctx)

	m := &Machine{
		orderID:  orderID,
		hooks:    hooks,
		observer: t.observer,
		lg:       t.lg.With(zap.String("order_id", orderID)),
		events:   make(chan Event),
		cancel:   cancel,
		done:     make(chan struct{}),
		state: Settlement{
			OrderID:   orderID,
			Status:    StatusPending,
			QRPayload: qr,
			Remaining: t.timeout,
		},
	}

	unsubscribe := func() {}
	if t.subs != nil {
		var push <-chan Event
		push, unsubscribe = t.subs.Subscribe(orderID)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.forward(ctx, push)
		}()
	}
	if t.querier != nil {
		poll := t.newTicker(t.pollInterval)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer poll.Stop()
			m.poll(ctx, t.querier, poll)
		}()
	}

	clock := t.newTicker(time.Second)
	go func() {
		m.run(ctx, clock)
		clock.Stop()
		unsubscribe()
		cancel()
		m.wg.Wait()
		close(m.done)
	}()

	m.lg.Info("Settlement tracking started",
		zap.Bool("awaiting_qr", qr == ""),
		zap.Duration("timeout", t.timeout),
	)
	return m
}

// OrderID returns the tracked order.
func (m *Machine) OrderID() string { return m.orderID }

// Current returns the latest known settlement.
func (m *Machine) Current() Settlement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Done is closed once the clock, the push subscription and the poll loop
// have all stopped.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Cancel abandons tracking without changing the settlement's status and
// waits for every producer to stop. It is safe to call more than once and
// after the machine has finished.
func (m *Machine) Cancel() {
	m.cancel()
	<-m.done
}

// run is the single consumer. It returns on the terminal transition or when
// ctx is cancelled.
func (m *Machine) run(ctx context.Context, clock Ticker) {
	tick := Event{Kind: KindTick, Source: SourceClock, OrderID: m.orderID}
	for {
		var ev Event
		select {
		case <-ctx.Done():
			m.lg.Info("Settlement tracking cancelled", zap.Stringer("status", m.Current().Status))
			return
		case <-clock.C():
			ev = tick
		case ev = <-m.events:
		}
		if m.handle(ev) {
			return
		}
	}
}

// handle applies ev and reports whether the settlement became terminal.
func (m *Machine) handle(ev Event) bool {
	m.mu.Lock()
	next, out := Apply(m.state, ev)
	m.state = next
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.Observe(ev, out, next)
	}

	switch out {
	case Updated:
		if ev.Kind == KindQRIssued {
			m.lg.Info("QR issued")
		}
		if m.hooks.OnChange != nil {
			m.hooks.OnChange(next)
		}
	case Settled:
		m.lg.Info("Settlement finished",
			zap.Stringer("status", next.Status),
			zap.Stringer("source", ev.Source),
		)
		if m.hooks.OnChange != nil {
			m.hooks.OnChange(next)
		}
		if m.hooks.OnTerminal != nil {
			m.hooks.OnTerminal(next)
		}
		return true
	case Discarded:
		m.lg.Debug("Event discarded",
			zap.Stringer("kind", ev.Kind),
			zap.Stringer("source", ev.Source),
			zap.String("event_order_id", ev.OrderID),
		)
	}
	return false
}

// send hands ev to the consumer unless tracking has ended.
func (m *Machine) send(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// forward relays push events until the subscription closes or ctx is done.
func (m *Machine) forward(ctx context.Context, push <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-push:
			if !ok {
				return
			}
			ev.Source = SourcePush
			if !m.send(ctx, ev) {
				return
			}
		}
	}
}

// poll queries the order status on every tick. A failed query is logged and
// retried on the next tick; it never fails the settlement.
func (m *Machine) poll(ctx context.Context, q StatusQuerier, ticker Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		status, err := q.Status(ctx, m.orderID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ra *RetryAfterError
			if errors.As(err, &ra) && ra.After > 0 {
				m.lg.Debug("Status poll throttled", zap.Duration("retry_after", ra.After))
				timer := time.NewTimer(ra.After)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				continue
			}
			m.lg.Warn("Status poll failed", zap.Error(err))
			continue
		}

		ev := Event{Kind: KindPollStatus, Source: SourcePoll, OrderID: m.orderID, Status: status}
		if !m.send(ctx, ev) {
			return
		}
	}
}
