package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/billing"
	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/domain/order"
	"github.com/xenking/stripe-storefront/internal/domain/payment"
	"github.com/xenking/stripe-storefront/internal/handler"
	"github.com/xenking/stripe-storefront/internal/repository"
	"github.com/xenking/stripe-storefront/pkg/health"
	"github.com/xenking/stripe-storefront/pkg/httpmiddleware"
)

const serviceName = "storefront"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Bool("debug", cfg.Debug),
		zap.Strings("allowed_hosts", cfg.AllowedHosts),
	)

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return err
	}
	pool, err := repository.NewPool(ctx, dsn)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, lg); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, health.Check{Name: "postgres", Timeout: 5 * time.Second, Func: health.PingCheck(pool)})
	healthSvc.Add(health.Liveness, health.Check{Name: "goroutines", Func: health.GoroutineCountCheck(10000)})
	healthSvc.Add(health.Liveness, health.Check{Name: "gc_pause", Func: health.GCMaxPauseCheck(time.Second)})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	root, err := newHandler(ctx, m, cfg, pool, healthSvc, nil)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           root,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler wires repositories, services and middleware into the root
// handler. A nil backend uses the live Stripe API.
func newHandler(
	ctx context.Context,
	m httpmiddleware.Telemetry,
	cfg *Config,
	pool *pgxpool.Pool,
	healthSvc *health.Health,
	backend stripe.Backend,
) (http.Handler, error) {
	// Repositories.
	itemRepo := repository.NewItemRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	taxRepo := repository.NewTaxRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Payment processor.
	billingCfg := cfg.Stripe.Billing()
	billingCfg.Backend = backend
	billingCfg.TracerProvider = m.TracerProvider()
	billingCfg.MeterProvider = m.MeterProvider()
	processor, err := billing.NewStripeProcessor(billingCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create payment processor")
	}

	// Domain services.
	orderService := order.NewService(orderRepo, itemRepo, discountRepo, taxRepo)
	paymentService := payment.NewService(itemRepo, orderService, processor, payment.URLs{
		Success: cfg.Stripe.SuccessURL,
		Cancel:  cfg.Stripe.CancelURL,
	})
	authenticator := auth.NewAuthenticator(apikeyRepo, []byte(cfg.SecretKey))

	h := handler.New(
		handler.Config{Debug: cfg.Debug, PublicKey: processor.PublicKey},
		itemRepo,
		discountRepo,
		taxRepo,
		orderService,
		paymentService,
		authenticator,
	)
	router := h.Router(handler.RouterConfig{
		Middlewares: []httpmiddleware.Middleware{
			httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
			httpmiddleware.Labeler(httpmiddleware.ChiRoute),
		},
		BuyLimit: httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			Cleanup: ctx,
		}),
		Live:  healthSvc.LiveEndpoint,
		Ready: healthSvc.ReadyEndpoint,
	})

	return httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.AllowedHosts(cfg.AllowedHosts),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, m),
	), nil
}
