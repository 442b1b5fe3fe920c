package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kasir-checkout/internal/domain/checkout"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

const instrumentation = "github.com/xenking/kasir-checkout"

// metrics records checkout and settlement outcomes.
type metrics struct {
	submissions metric.Int64Counter
	outcomes    metric.Int64Counter
	discarded   metric.Int64Counter
	dropped     metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentation)

	var (
		m   metrics
		err error
	)
	if m.submissions, err = meter.Int64Counter("kasir.checkout.submissions",
		metric.WithDescription("Checkout submissions by payment method and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "submissions counter")
	}
	if m.outcomes, err = meter.Int64Counter("kasir.settlement.outcomes",
		metric.WithDescription("Settlements reaching a terminal status"),
	); err != nil {
		return nil, errors.Wrap(err, "outcomes counter")
	}
	if m.discarded, err = meter.Int64Counter("kasir.settlement.discarded",
		metric.WithDescription("Events discarded by a settlement, by source"),
	); err != nil {
		return nil, errors.Wrap(err, "discarded counter")
	}
	if m.dropped, err = meter.Int64Counter("kasir.push.dropped",
		metric.WithDescription("Push events dropped on a full subscriber queue"),
	); err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	return &m, nil
}

var _ settlement.Observer = (*metrics)(nil)

// Observe implements settlement.Observer.
func (m *metrics) Observe(ev settlement.Event, out settlement.Outcome, s settlement.Settlement) {
	ctx := context.Background()
	switch out {
	case settlement.Settled:
		m.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", s.Status.String()),
			attribute.String("source", ev.Source.String()),
		))
	case settlement.Discarded:
		m.discarded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", ev.Source.String()),
		))
	}
}

func (m *metrics) pushDropped(settlement.Event) {
	m.dropped.Add(context.Background(), 1)
}

// instrumentedSubmitter traces and counts checkout submissions.
type instrumentedSubmitter struct {
	next    checkout.Submitter
	tracer  trace.Tracer
	metrics *metrics
}

var _ checkout.Submitter = (*instrumentedSubmitter)(nil)

func (s *instrumentedSubmitter) Submit(ctx context.Context, req checkout.Request) (*checkout.Response, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kasir.payment_method", req.Method.String()),
			attribute.String("kasir.tier", string(req.Tier)),
			attribute.Int("kasir.lines", len(req.Lines)),
			attribute.Int64("kasir.grand_total", req.Summary.GrandTotal),
		),
	)
	defer span.End()

	resp, err := s.next.Submit(ctx, req)

	outcome := "accepted"
	var remote *checkout.RemoteError
	switch {
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		outcome = "unavailable"
	case errors.As(err, &remote):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("kasir.order_id", resp.OrderID))
	}
	s.metrics.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", req.Method.String()),
		attribute.String("outcome", outcome),
	))
	return resp, err
}
