package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/checkout"
	"github.com/frahmantamala/checkout/internal/core/events"
	"github.com/frahmantamala/checkout/internal/core/events/kafka"
	"github.com/frahmantamala/checkout/internal/gateway"
	"github.com/frahmantamala/checkout/internal/metrics"
	"github.com/frahmantamala/checkout/internal/sandbox"
	"github.com/frahmantamala/checkout/internal/sandbox/postgres"
	"github.com/frahmantamala/checkout/internal/transport"
	"github.com/frahmantamala/checkout/internal/transport/rest"
	"github.com/go-chi/chi"
	"github.com/jonboulle/clockwork"
)

// checkoutApp holds everything the checkout API and the pay command share.
type checkoutApp struct {
	Config    *internal.Config
	Logger    *slog.Logger
	Client    *gateway.Client
	Bus       *events.EventBus
	Forwarder *kafka.Forwarder
	Metrics   *metrics.Metrics
	Sessions  *checkout.SessionStore
}

func newCheckoutApp(cfg *internal.Config, log *slog.Logger) *checkoutApp {
	app := &checkoutApp{
		Config: cfg,
		Logger: log,
		Client: gateway.NewClient(gateway.Config{
			BaseURL:   cfg.Gateway.BaseURL,
			APIKey:    cfg.Gateway.APIKey,
			APISecret: cfg.Gateway.APISecret,
			Timeout:   cfg.Gateway.RequestTimeout,
		}, log),
		Bus: events.NewEventBus(log),
	}
	if cfg.Observability.Metrics.Enabled {
		app.Metrics = metrics.New()
	}

	app.Bus.Subscribe(events.AllEvents, func(ctx context.Context, event events.Event) error {
		log.Debug("checkout event", "event_type", event.EventType(), "event_id", event.EventID())
		return nil
	})
	if brokers := cfg.Observability.Events.KafkaBrokers; len(brokers) > 0 {
		writer := kafka.NewWriter(kafka.Config{Brokers: brokers, Topic: cfg.Observability.Events.KafkaTopic})
		app.Forwarder = kafka.NewForwarder(writer, 5*time.Second, log)
		app.Forwarder.Register(app.Bus)
		log.Info("forwarding checkout events to kafka", "brokers", brokers, "topic", cfg.Observability.Events.KafkaTopic)
	}

	app.Sessions = checkout.NewSessionStore(func(id string) *checkout.Machine {
		return app.NewMachine(checkout.WithID(id))
	}, checkout.StoreConfig{
		TTL:           cfg.Checkout.SessionTTL,
		SweepInterval: cfg.Checkout.SweepInterval,
		MaxSessions:   cfg.Checkout.MaxSessions,
		Gauge:         app.Metrics,
	}, log)

	return app
}

func (a *checkoutApp) NewMachine(opts ...checkout.Option) *checkout.Machine {
	base := []checkout.Option{
		checkout.WithLogger(a.Logger),
		checkout.WithPollInterval(a.Config.Checkout.PollInterval),
		checkout.WithPollCeiling(a.Config.Checkout.PollCeiling),
		checkout.WithEventBus(a.Bus),
		checkout.WithClock(clockwork.NewRealClock()),
	}
	if a.Metrics != nil {
		base = append(base, checkout.WithMetrics(a.Metrics))
	}
	return checkout.NewMachine(a.Client, a.Client, append(base, opts...)...)
}

func (a *checkoutApp) Router() *chi.Mux {
	router := chi.NewRouter()
	handler := checkout.NewHandler(transport.NewBaseHandler(a.Logger), a.Sessions, a.Config.Checkout.OrderQueryParams)
	rest.RegisterCheckoutRoutes(router, handler, rest.Options{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		MetricsPath:    a.Config.Observability.Metrics.Path,
		Metrics:        a.Metrics,
		Health:         rest.NewHealthHandler(map[string]rest.Check{"sessions": rest.SessionsCheck(a.Sessions.Len)}),
		Logger:         a.Logger,
	})
	return router
}

// Close tears down sessions first so their last events reach the bus.
func (a *checkoutApp) Close() {
	a.Sessions.CloseAll()
	a.Bus.Wait()
	if a.Forwarder != nil {
		if err := a.Forwarder.Close(); err != nil {
			a.Logger.Error("kafka writer close error", "error", err)
		}
	}
}

type sandboxApp struct {
	Config  internal.SandboxConfig
	Logger  *slog.Logger
	DB      *sql.DB
	Pool    *sandbox.Pool
	Service *sandbox.Service
}

func newSandboxApp(ctx context.Context, cfg internal.SandboxConfig, log *slog.Logger) (*sandboxApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox config: %w", err)
	}

	gormDB, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}

	repo := postgres.NewStore(gormDB)
	pool := sandbox.NewPool(repo, sandbox.SettlerConfig{
		MaxWorkers:      cfg.MaxWorkers,
		JobQueueSize:    cfg.JobQueueSize,
		MinDelay:        cfg.SettleMinDelay,
		MaxDelay:        cfg.SettleMaxDelay,
		UPISuccessRate:  cfg.UPISuccessRate,
		CardSuccessRate: cfg.CardSuccessRate,
	}, log)
	service := sandbox.NewService(repo, pool, clockwork.NewRealClock(), log)

	app := &sandboxApp{Config: cfg, Logger: log, DB: sqlDB, Pool: pool, Service: service}
	if _, _, err := service.EnsureMerchant(ctx, app.credentials()); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to seed test merchant: %w", err)
	}
	return app, nil
}

func (a *sandboxApp) credentials() sandbox.MerchantCredentials {
	return sandbox.MerchantCredentials{
		Name:       a.Config.MerchantName,
		Email:      a.Config.MerchantEmail,
		APIKey:     a.Config.MerchantAPIKey,
		APISecret:  a.Config.MerchantAPISecret,
		BCryptCost: a.Config.BCryptCost,
	}
}

func (a *sandboxApp) Router(server internal.ServerConfig) *chi.Mux {
	router := chi.NewRouter()
	rest.RegisterSandboxRoutes(router, sandbox.NewHandler(transport.NewBaseHandler(a.Logger), a.Service), rest.Options{
		AllowedOrigins: server.AllowedOrigins,
		Health:         rest.NewHealthHandler(map[string]rest.Check{"database": rest.DatabaseCheck(a.DB)}),
		Logger:         a.Logger,
	})
	return router
}

func (a *sandboxApp) Close() {
	a.Pool.Shutdown()
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func newHTTPServer(port int, handler http.Handler, cfg internal.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, name string, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "server", name, "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Info("shutting down HTTP server", "server", name)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s server shutdown: %w", name, err)
		}
		return nil
	}
}
