package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Start the sandbox payment backend",
	Long:  `Serve the local payment backend used for development: merchant orders, payments and asynchronous settlement.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := setupLogger(cfg.Observability.Logging).With("component", "sandbox")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sb, err := newSandboxApp(ctx, cfg.Sandbox, log)
		if err != nil {
			return err
		}
		defer sb.Close()

		return serve(ctx, newHTTPServer(cfg.Sandbox.Port, sb.Router(cfg.Server), cfg.Server), "sandbox", log)
	},
}
