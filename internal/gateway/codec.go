package gateway

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kasir-checkout/internal/domain/checkout"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

func encodeCheckout(req checkout.Request) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(req.IdempotencyKey) })
		e.Field("member_id", func(e *jx.Encoder) {
			if req.MemberID == "" {
				e.Null()
				return
			}
			e.Str(req.MemberID)
		})
		e.Field("tier", func(e *jx.Encoder) { e.Str(string(req.Tier)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(req.Method.String()) })
		e.Field("pin", func(e *jx.Encoder) { e.Str(req.PIN) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range req.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Int64(l.UnitPrice) })
						e.Field("base_price", func(e *jx.Encoder) { e.Int64(l.UnitBase) })
					})
				}
			})
		})
		e.Field("summary", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("subtotal", func(e *jx.Encoder) { e.Int64(req.Summary.Subtotal) })
				e.Field("total_margin", func(e *jx.Encoder) { e.Int64(req.Summary.TotalMargin) })
				e.Field("grand_total", func(e *jx.Encoder) { e.Int64(req.Summary.GrandTotal) })
			})
		})
	})
	return e.Bytes()
}

type checkoutResponse struct {
	success bool
	orderID string
	qrCode  string
	message string
}

func decodeCheckout(data []byte) (checkoutResponse, error) {
	var out checkoutResponse
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "success":
			out.success, err = d.Bool()
		case "order_id":
			out.orderID, err = optStr(d)
		case "qr_code":
			out.qrCode, err = optStr(d)
		case "message":
			out.message, err = optStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return out, err
}

func decodeStatus(data []byte) (settlement.Status, error) {
	var raw string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		raw, err = d.Str()
		return err
	})
	if err != nil {
		return "", err
	}
	return parseStatus(raw)
}

// parseStatus maps the backend's payment status vocabulary.
func parseStatus(raw string) (settlement.Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCESS", "SETTLED":
		return settlement.StatusPaid, nil
	case "FAILED", "CANCELLED", "DENIED":
		return settlement.StatusFailed, nil
	case "PENDING", "UNPAID", "":
		return settlement.StatusPending, nil
	default:
		return "", errors.Errorf("unknown payment status %q", raw)
	}
}

// decodeMessage extracts {"message": ...} from an error body. Non-JSON
// bodies yield an empty string.
func decodeMessage(data []byte) string {
	var msg string
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "message", "error":
			if msg != "" {
				return d.Skip()
			}
			v, err := optStr(d)
			msg = v
			return err
		default:
			return d.Skip()
		}
	})
	return msg
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
