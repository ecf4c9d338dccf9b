package sandbox

import (
	"context"
	"log/slog"
	"strings"

	errors "github.com/frahmantamala/checkout/internal"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// Settler finalises accepted payments in the background.
type Settler interface {
	Enqueue(job SettlementJob) error
}

var (
	ErrOrderNotFound   = errors.NewNotFoundError("Order not found", errors.ErrCodeOrderNotFound)
	ErrPaymentNotFound = errors.NewNotFoundError("Payment not found", errors.ErrCodePaymentNotFound)
	ErrOrderPaid       = errors.NewConflictError("Order has already been paid", errors.ErrCodeOrderAlreadyPaid)
)

type Service struct {
	repo    RepositoryAPI
	settler Settler
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewService(repo RepositoryAPI, settler Settler, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:    repo,
		settler: settler,
		clock:   clock,
		logger:  logger,
	}
}

func (s *Service) Authenticate(ctx context.Context, apiKey, apiSecret string) (*sandboxDatamodel.Merchant, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.ErrInvalidAPIKey
	}

	merchant, err := s.repo.GetMerchantByAPIKey(ctx, apiKey)
	if err != nil {
		s.logger.Error("failed to look up merchant", "error", err)
		return nil, errors.NewInternalError("Failed to authenticate merchant", err)
	}
	if merchant == nil || !merchant.IsActive {
		return nil, errors.ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(merchant.APISecretHash), []byte(apiSecret)); err != nil {
		s.logger.Warn("merchant secret mismatch", "merchant_id", merchant.ID)
		return nil, errors.ErrInvalidAPIKey
	}
	return merchant, nil
}

type MerchantCredentials struct {
	Name       string
	Email      string
	APIKey     string
	APISecret  string
	BCryptCost int
}

// EnsureMerchant creates the merchant unless one with the same email exists.
// It reports whether a new record was written.
func (s *Service) EnsureMerchant(ctx context.Context, creds MerchantCredentials) (*sandboxDatamodel.Merchant, bool, error) {
	existing, err := s.repo.GetMerchantByEmail(ctx, creds.Email)
	if err != nil {
		return nil, false, errors.NewInternalError("Failed to look up merchant", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	cost := creds.BCryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.APISecret), cost)
	if err != nil {
		return nil, false, errors.NewInternalError("Failed to hash merchant secret", err)
	}

	now := s.clock.Now().UTC()
	merchant := &sandboxDatamodel.Merchant{
		ID:            NewMerchantID(),
		Name:          creds.Name,
		Email:         creds.Email,
		APIKey:        creds.APIKey,
		APISecretHash: string(hash),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateMerchant(ctx, merchant); err != nil {
		return nil, false, errors.NewInternalError("Failed to create merchant", err)
	}

	s.logger.Info("merchant created", "merchant_id", merchant.ID, "email", merchant.Email)
	return merchant, true, nil
}

func (s *Service) CreateOrder(ctx context.Context, merchant *sandboxDatamodel.Merchant, req CreateOrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock.Now().UTC()
	order := &sandboxDatamodel.Order{
		ID:         NewOrderID(),
		MerchantID: merchant.ID,
		Amount:     req.Amount,
		Currency:   currency,
		Receipt:    strPtr(strings.TrimSpace(req.Receipt)),
		Status:     sandboxDatamodel.OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.logger.Error("failed to create order", "merchant_id", merchant.ID, "error", err)
		return nil, errors.NewInternalError("Failed to create order", err)
	}

	s.logger.Info("order created", "order_id", order.ID, "merchant_id", merchant.ID, "amount", order.Amount)
	resp := NewOrderResponse(order)
	return &resp, nil
}

func (s *Service) GetOrder(ctx context.Context, merchant *sandboxDatamodel.Merchant, id string) (*OrderResponse, error) {
	order, err := s.findOrder(ctx, merchant, id)
	if err != nil {
		return nil, err
	}
	resp := NewOrderResponse(order)
	return &resp, nil
}

func (s *Service) CreatePayment(ctx context.Context, merchant *sandboxDatamodel.Merchant, req CreatePaymentRequest) (*PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	method, _ := checkoutDatamodel.ParseMethod(req.Method)

	order, err := s.findOrder(ctx, merchant, strings.TrimSpace(req.OrderID))
	if err != nil {
		return nil, err
	}
	if order.Status == sandboxDatamodel.OrderStatusPaid {
		return nil, ErrOrderPaid
	}
	paid, err := s.repo.HasSuccessfulPayment(ctx, order.ID)
	if err != nil {
		return nil, errors.NewInternalError("Failed to check order payments", err)
	}
	if paid {
		return nil, ErrOrderPaid
	}

	now := s.clock.Now().UTC()
	payment := &sandboxDatamodel.Payment{
		ID:         NewPaymentID(),
		OrderID:    order.ID,
		MerchantID: merchant.ID,
		Amount:     order.Amount,
		Currency:   order.Currency,
		Method:     method.String(),
		Status:     checkoutDatamodel.StatusProcessing.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch method {
	case checkoutDatamodel.MethodUPI:
		vpa := strings.TrimSpace(req.VPA)
		if appErr := ValidateVPA(vpa); appErr != nil {
			return nil, appErr
		}
		payment.VPA = &vpa
	case checkoutDatamodel.MethodCard:
		network, appErr := ValidateCard(CardDetails{
			Number:      req.CardNumber,
			ExpiryMonth: req.ExpiryMonth,
			ExpiryYear:  req.ExpiryYear,
			CVV:         req.CVV,
			HolderName:  req.HolderName,
		}, now)
		if appErr != nil {
			return nil, appErr
		}
		payment.CardNetwork = strPtr(string(network))
		payment.CardLast4 = strPtr(CardLast4(req.CardNumber))
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		s.logger.Error("failed to create payment", "order_id", order.ID, "error", err)
		return nil, errors.NewInternalError("Failed to create payment", err)
	}

	if err := s.settler.Enqueue(SettlementJob{PaymentID: payment.ID, Method: method}); err != nil {
		s.logger.Warn("settlement queue unavailable, failing payment", "payment_id", payment.ID, "error", err)
		outcome := Outcome{
			Status:      checkoutDatamodel.StatusFailed.String(),
			Code:        "SETTLEMENT_UNAVAILABLE",
			Description: "Payment could not be processed right now. Please try again.",
			SettledAt:   s.clock.Now().UTC(),
		}
		if err := s.repo.SettlePayment(ctx, payment.ID, outcome); err != nil {
			return nil, errors.NewInternalError("Failed to update payment", err)
		}
		payment.Status = outcome.Status
		payment.ErrorCode = strPtr(outcome.Code)
		payment.ErrorDescription = strPtr(outcome.Description)
	}

	s.logger.Info("payment created", "payment_id", payment.ID, "order_id", order.ID, "method", payment.Method, "status", payment.Status)
	resp := NewPaymentResponse(payment)
	return &resp, nil
}

func (s *Service) GetPayment(ctx context.Context, merchant *sandboxDatamodel.Merchant, id string) (*PaymentResponse, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, errors.NewInternalError("Failed to get payment", err)
	}
	if payment == nil || payment.MerchantID != merchant.ID {
		return nil, ErrPaymentNotFound
	}
	resp := NewPaymentResponse(payment)
	return &resp, nil
}

func (s *Service) findOrder(ctx context.Context, merchant *sandboxDatamodel.Merchant, id string) (*sandboxDatamodel.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.NewInternalError("Failed to get order", err)
	}
	if order == nil || order.MerchantID != merchant.ID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
