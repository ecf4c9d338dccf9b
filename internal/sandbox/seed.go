package sandbox

import (
	"context"
	"fmt"
)

// SampleOrderAmounts are the minor unit amounts created by the seed command.
var SampleOrderAmounts = []int64{50000, 149900, 999}

// Seed makes sure the test merchant exists, then creates one order per amount.
func (s *Service) Seed(ctx context.Context, creds MerchantCredentials, amounts []int64) ([]OrderResponse, error) {
	merchant, created, err := s.EnsureMerchant(ctx, creds)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("test merchant seeded", "email", creds.Email, "api_key", creds.APIKey)
	} else {
		s.logger.Info("test merchant already exists", "email", creds.Email)
	}

	orders := make([]OrderResponse, 0, len(amounts))
	for i, amount := range amounts {
		order, err := s.CreateOrder(ctx, merchant, CreateOrderRequest{
			Amount:  amount,
			Receipt: fmt.Sprintf("seed_%d", i+1),
		})
		if err != nil {
			return orders, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}
