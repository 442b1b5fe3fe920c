package push

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// Event types published by the payment gateway.
const (
	TypeQRIssued         = "qr.issued"
	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentFailed    = "payment.failed"
)

// ErrUnknownType is returned for envelopes whose event type is not a
// payment event.
var ErrUnknownType = errors.New("unknown event type")

// Envelope is the wire format of a push event.
type Envelope struct {
	EventID       string
	EventType     string
	EventVersion  int
	OccurredAt    time.Time
	Producer      string
	CorrelationID string
	Payload       []byte
}

// Payload is the body of a payment event.
type Payload struct {
	OrderID       string
	QRCode        string
	PaymentMethod string
	Message       string
}

// DecodeEnvelope parses a JSON envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "event_id":
			env.EventID, err = d.Str()
		case "event_type":
			env.EventType, err = d.Str()
		case "event_version":
			env.EventVersion, err = d.Int()
		case "occurred_at":
			var s string
			if s, err = d.Str(); err == nil {
				env.OccurredAt, err = time.Parse(time.RFC3339Nano, s)
			}
		case "producer":
			env.Producer, err = d.Str()
		case "correlation_id":
			env.CorrelationID, err = optStr(d)
		case "payload":
			var raw jx.Raw
			if raw, err = d.Raw(); err == nil {
				env.Payload = append([]byte(nil), raw...)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.EventType == "" {
		return Envelope{}, errors.New("envelope without event_type")
	}
	return env, nil
}

// Encode renders env as JSON.
func (env Envelope) Encode() []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_id", func(e *jx.Encoder) { e.Str(env.EventID) })
		e.Field("event_type", func(e *jx.Encoder) { e.Str(env.EventType) })
		e.Field("event_version", func(e *jx.Encoder) { e.Int(env.EventVersion) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(env.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		if env.Producer != "" {
			e.Field("producer", func(e *jx.Encoder) { e.Str(env.Producer) })
		}
		if env.CorrelationID != "" {
			e.Field("correlation_id", func(e *jx.Encoder) { e.Str(env.CorrelationID) })
		}
		e.Field("payload", func(e *jx.Encoder) {
			if len(env.Payload) == 0 {
				e.ObjStart()
				e.ObjEnd()
				return
			}
			e.Raw(env.Payload)
		})
	})
	return e.Bytes()
}

// EncodePayload renders a payment event payload.
func EncodePayload(p Payload) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(p.OrderID) })
		if p.QRCode != "" {
			e.Field("qr_code", func(e *jx.Encoder) { e.Str(p.QRCode) })
		}
		if p.PaymentMethod != "" {
			e.Field("payment_method", func(e *jx.Encoder) { e.Str(p.PaymentMethod) })
		}
		if p.Message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(p.Message) })
		}
	})
	return e.Bytes()
}

func decodePayload(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, nil
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			p.OrderID, err = optStr(d)
		case "qr_code", "qr_payload":
			var v string
			if v, err = optStr(d); err == nil && v != "" {
				p.QRCode = v
			}
		case "payment_method":
			p.PaymentMethod, err = optStr(d)
		case "message", "reason":
			var v string
			if v, err = optStr(d); err == nil && v != "" {
				p.Message = v
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return Payload{}, errors.Wrap(err, "decode payload")
	}
	return p, nil
}

// Event converts env into a settlement event. The order id is taken from
// the payload and falls back to the correlation id.
func (env Envelope) Event() (settlement.Event, error) {
	var kind settlement.Kind
	switch env.EventType {
	case TypeQRIssued:
		kind = settlement.KindQRIssued
	case TypePaymentSucceeded:
		kind = settlement.KindPaymentSucceeded
	case TypePaymentFailed:
		kind = settlement.KindPaymentFailed
	default:
		return settlement.Event{}, errors.Wrapf(ErrUnknownType, "%q", env.EventType)
	}

	p, err := decodePayload(env.Payload)
	if err != nil {
		return settlement.Event{}, err
	}
	orderID := p.OrderID
	if orderID == "" {
		orderID = env.CorrelationID
	}
	if orderID == "" {
		return settlement.Event{}, errors.Errorf("%s event without order id", env.EventType)
	}

	return settlement.Event{
		ID:        env.EventID,
		Kind:      kind,
		Source:    settlement.SourcePush,
		OrderID:   orderID,
		QRPayload: p.QRCode,
		Method:    p.PaymentMethod,
		Message:   p.Message,
	}, nil
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
