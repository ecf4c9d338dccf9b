package sandbox

import (
	"context"
	"strings"
	"time"

	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/google/uuid"
)

// RepositoryAPI returns nil, nil when a record does not exist.
type RepositoryAPI interface {
	CreateMerchant(ctx context.Context, merchant *sandboxDatamodel.Merchant) error
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (*sandboxDatamodel.Merchant, error)
	GetMerchantByEmail(ctx context.Context, email string) (*sandboxDatamodel.Merchant, error)

	CreateOrder(ctx context.Context, order *sandboxDatamodel.Order) error
	GetOrder(ctx context.Context, id string) (*sandboxDatamodel.Order, error)

	CreatePayment(ctx context.Context, payment *sandboxDatamodel.Payment) error
	GetPayment(ctx context.Context, id string) (*sandboxDatamodel.Payment, error)
	HasSuccessfulPayment(ctx context.Context, orderID string) (bool, error)
	SettlePayment(ctx context.Context, id string, outcome Outcome) error
}

// Outcome is the final status the settlement worker assigns to a payment.
// A successful outcome also marks the order paid.
type Outcome struct {
	Status      string
	Code        string
	Description string
	SettledAt   time.Time
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func NewOrderID() string {
	return newID("order_")
}

func NewPaymentID() string {
	return newID("pay_")
}

func NewMerchantID() string {
	return uuid.NewString()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
