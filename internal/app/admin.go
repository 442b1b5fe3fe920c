package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/kasir-checkout/internal/domain/settlement"
	"github.com/xenking/kasir-checkout/pkg/health"
	"github.com/xenking/kasir-checkout/pkg/httpmiddleware"
)

// SettlementSource exposes the settlement of the current checkout attempt.
type SettlementSource interface {
	Settlement() (settlement.Settlement, bool)
}

// newAdminRouter serves probes and the current settlement.
func newAdminRouter(lg *zap.Logger, probes *health.Registry, src SettlementSource) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
	)
	r.Get("/livez", probes.Handler(health.Liveness))
	r.Get("/readyz", probes.Handler(health.Readiness))
	r.Get("/settlement", settlementHandler(src))
	return r
}

func settlementHandler(src SettlementSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s, ok := src.Settlement()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"no checkout in progress"}`))
			return
		}
		_, _ = w.Write(encodeSettlement(s))
	}
}

func encodeSettlement(s settlement.Settlement) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(s.OrderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(s.Status.String()) })
		e.Field("awaiting_qr", func(e *jx.Encoder) { e.Bool(s.AwaitingQR()) })
		if s.QRPayload != "" {
			e.Field("qr_payload", func(e *jx.Encoder) { e.Str(s.QRPayload) })
		}
		if s.Method != "" {
			e.Field("method", func(e *jx.Encoder) { e.Str(s.Method) })
		}
		if s.Error != "" {
			e.Field("error", func(e *jx.Encoder) { e.Str(s.Error) })
		}
		e.Field("remaining_seconds", func(e *jx.Encoder) { e.Int(s.RemainingSeconds()) })
	})
	return e.Bytes()
}

func newAdminServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
