package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/frahmantamala/checkout/internal/sandbox"
	"github.com/spf13/cobra"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the sandbox database with the test merchant and sample orders",
	Long:  `Seed the sandbox database with the test merchant and a few orders for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configDir)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		ctx := context.Background()

		sb, err := newSandboxApp(ctx, cfg.Sandbox, setupLogger(cfg.Observability.Logging))
		if err != nil {
			log.Fatalf("failed to init sandbox: %v", err)
		}
		defer sb.Close()

		if clearData {
			for _, table := range []string{"payments", "orders"} {
				if _, err := sb.DB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing orders and payments")
		}

		orders, err := sb.Service.Seed(ctx, sb.credentials(), sandbox.SampleOrderAmounts)
		if err != nil {
			log.Fatalf("failed to seed: %v", err)
		}

		fmt.Println("Test merchant:", sb.Config.MerchantEmail, "api key:", sb.Config.MerchantAPIKey)
		for _, order := range orders {
			fmt.Printf("Seeded order %s amount=%d %s\n", order.ID, order.Amount, order.Currency)
		}
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing orders and payments before seeding")
}
