package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/checkout/internal/checkout"
	"github.com/frahmantamala/checkout/internal/metrics"
	"github.com/frahmantamala/checkout/internal/sandbox"
	"github.com/frahmantamala/checkout/internal/telemetry"
	"github.com/frahmantamala/checkout/internal/transport/middleware"
	"github.com/frahmantamala/checkout/internal/transport/swagger"
	"github.com/go-chi/chi"
)

type Options struct {
	AllowedOrigins string
	// MetricsPath is left unmounted when empty or when Metrics is nil.
	MetricsPath string
	OpenAPIFile string
	Metrics     *metrics.Metrics
	Health      *HealthHandler
	Logger      *slog.Logger
}

func applyCommon(router *chi.Mux, opts Options) {
	router.Use(middleware.CORSWithOrigins(opts.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(telemetry.Middleware)
	router.Use(opts.Metrics.Middleware)
	router.Use(middleware.LoggingMiddleware(opts.Logger))

	if opts.Metrics != nil && opts.MetricsPath != "" {
		router.Handle(opts.MetricsPath, opts.Metrics.Handler())
	}
}

func RegisterCheckoutRoutes(router *chi.Mux, checkoutHandler *checkout.Handler, opts Options) {
	applyCommon(router, opts)

	openAPIFile := opts.OpenAPIFile
	if openAPIFile == "" {
		openAPIFile = "./api/openapi.yml"
	}
	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIFile)
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	router.Route("/api/v1", func(r chi.Router) {
		if opts.Health != nil {
			r.Get("/health", opts.Health.healthCheckHandler)
			r.Get("/ping", opts.Health.pingHandler)
		}

		r.Route("/checkout/sessions", func(sr chi.Router) {
			sr.Post("/", checkoutHandler.CreateSession)
			sr.Get("/{sessionID}", checkoutHandler.GetSession)
			sr.Delete("/{sessionID}", checkoutHandler.CloseSession)
			sr.Post("/{sessionID}/method", checkoutHandler.SelectMethod)
			sr.Patch("/{sessionID}/fields", checkoutHandler.SetFields)
			sr.Post("/{sessionID}/back", checkoutHandler.Back)
			sr.Post("/{sessionID}/submit", checkoutHandler.Submit)
			sr.Post("/{sessionID}/retry", checkoutHandler.Retry)
		})
	})
}

func RegisterSandboxRoutes(router *chi.Mux, sandboxHandler *sandbox.Handler, opts Options) {
	applyCommon(router, opts)

	router.Route("/api/v1", func(r chi.Router) {
		if opts.Health != nil {
			r.Get("/health", opts.Health.healthCheckHandler)
			r.Get("/ping", opts.Health.pingHandler)
		}
		sandboxHandler.Routes(r)
	})
}
