package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/checkout/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var withSandbox bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the checkout HTTP server",
	Long:  `Start the checkout API. With --sandbox the local payment backend is served alongside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&withSandbox, "sandbox", false, "also serve the sandbox payment backend on sandbox.port")
}

func startHTTPServer() error {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg.Observability.Logging)

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if withSandbox {
		sb, err := newSandboxApp(ctx, cfg.Sandbox, log.With("component", "sandbox"))
		if err != nil {
			return err
		}
		defer sb.Close()

		srv := newHTTPServer(cfg.Sandbox.Port, sb.Router(cfg.Server), cfg.Server)
		g.Go(func() error { return serve(gctx, srv, "sandbox", log) })
	}

	app := newCheckoutApp(cfg, log)
	defer app.Close()

	srv := newHTTPServer(cfg.Server.Port, app.Router(), cfg.Server)
	g.Go(func() error { return serve(gctx, srv, "checkout", log) })
	g.Go(func() error {
		app.Sessions.RunJanitor(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}

	log.Info("server stopped")
	return nil
}
