// Package app wires the checkout terminal: catalog storage, the checkout
// backend client, the push transport, settlement tracking, the operator
// console and the admin server.
package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kasir-checkout/internal/domain/checkout"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
	"github.com/xenking/kasir-checkout/internal/gateway"
	"github.com/xenking/kasir-checkout/internal/push"
	"github.com/xenking/kasir-checkout/internal/storage/postgres"
	"github.com/xenking/kasir-checkout/pkg/health"
)

// Run creates all dependencies and runs the console until the operator
// quits or ctx is cancelled. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config, in io.Reader, out io.Writer) error {
	lg = lg.With(zap.String("terminal_id", cfg.TerminalID))
	lg.Info("Initializing", zap.String("push_transport", cfg.Push.Transport))

	met, err := newMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	probes := health.New()
	probes.Register(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	probes.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Push transport.
	hub := push.NewHub(lg.Named("push"), push.WithDropHook(met.pushDropped))
	var source push.Source
	switch cfg.Push.Transport {
	case TransportKafka:
		source = push.NewKafkaSource(cfg.Push.KafkaBrokers, cfg.Push.KafkaTopic, cfg.TerminalID)
	default:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Push.RedisAddr})
		defer func() { _ = rdb.Close() }()
		probes.Register(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		source = push.NewRedisSource(rdb, cfg.Push.RedisPattern)
	}

	// Checkout backend.
	client, err := gateway.New(gateway.Config{
		URL:            cfg.Gateway.URL,
		APIKey:         cfg.Gateway.APIKey,
		Timeout:        cfg.Gateway.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}, lg.Named("gateway"))
	if err != nil {
		return errors.Wrap(err, "create gateway client")
	}

	// Domain services.
	tracker := settlement.NewTracker(hub, client, lg.Named("settlement"),
		settlement.WithTimeout(cfg.Settlement.Timeout),
		settlement.WithPollInterval(cfg.Settlement.PollInterval),
		settlement.WithObserver(met),
	)
	submitter := &instrumentedSubmitter{
		next:    client,
		tracer:  m.TracerProvider().Tracer(instrumentation),
		metrics: met,
	}
	checkoutSvc := checkout.NewService(submitter, tracker, lg.Named("checkout"))

	console := NewConsole(ConsoleDeps{
		Products:    postgres.NewProductRepository(pool),
		MarginRules: postgres.NewMarginRuleRepository(pool),
		Members:     postgres.NewMemberRepository(pool),
		Checkout:    checkoutSvc,
	}, in, out, lg.Named("console"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx, source)
	})

	probes.Start(ctx, 10*time.Second)
	defer probes.Stop()

	if cfg.Admin.Addr != "" {
		server := newAdminServer(cfg.Admin.Addr, newAdminRouter(lg.Named("admin"), probes, console))
		g.Go(func() error {
			lg.Info("Admin server listening", zap.String("addr", cfg.Admin.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			probes.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				lg.Error("Admin server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	probes.SetReady(true)
	g.Go(func() error {
		// The console owns the session; leaving it ends the process.
		defer cancel()
		return console.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	lg.Info("Shut down")
	return nil
}
