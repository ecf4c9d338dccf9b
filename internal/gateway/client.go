// Package gateway talks to the payment backend on behalf of the checkout page.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderAPISecret = "X-Api-Secret"

	maxBodySize = 1 << 20
)

// OrderGateway loads the order a checkout session pays for.
type OrderGateway interface {
	FetchOrder(ctx context.Context, orderID string) (*checkout.Order, error)
}

// PaymentGateway submits attempts and reads back their status.
type PaymentGateway interface {
	Submit(ctx context.Context, req checkout.PaymentRequest) (*checkout.Payment, error)
	GetStatus(ctx context.Context, paymentID string) (*checkout.Payment, error)
}

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client implements OrderGateway and PaymentGateway over the backend REST API.
// It never retries; a failed call is reported once to the caller.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("github.com/frahmantamala/checkout/internal/gateway"),
		logger:     logger,
	}
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type paymentResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
	Method  string `json:"method"`
}

type declineResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// paymentBody is the camelCase request accepted by POST /payments.
type paymentBody struct {
	OrderID     string `json:"orderId"`
	Method      string `json:"method"`
	VPA         string `json:"vpa,omitempty"`
	CardNumber  string `json:"cardNumber,omitempty"`
	ExpiryMonth string `json:"expiryMonth,omitempty"`
	ExpiryYear  string `json:"expiryYear,omitempty"`
	CVV         string `json:"cvv,omitempty"`
	HolderName  string `json:"holderName,omitempty"`
}

func newPaymentBody(req checkout.PaymentRequest) (paymentBody, error) {
	switch r := req.(type) {
	case checkout.UPIPayment:
		return paymentBody{OrderID: r.OrderID, Method: string(checkout.MethodUPI), VPA: r.VPA}, nil
	case checkout.CardPayment:
		return paymentBody{
			OrderID:     r.OrderID,
			Method:      string(checkout.MethodCard),
			CardNumber:  r.CardNumber,
			ExpiryMonth: r.ExpiryMonth,
			ExpiryYear:  r.ExpiryYear,
			CVV:         r.CVV,
			HolderName:  r.HolderName,
		}, nil
	}
	return paymentBody{}, fmt.Errorf("unsupported payment request %T", req)
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (*checkout.Order, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.FetchOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	status, body, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, c.fail(span, errors.NewNetworkError("Unable to load order. Please try again.", err))
	}

	switch {
	case status == http.StatusNotFound:
		return nil, c.fail(span, errors.NewNotFoundError("Order not found", errors.ErrCodeOrderNotFound))
	case status != http.StatusOK:
		return nil, c.fail(span, errors.NewNetworkError("Unable to load order. Please try again.", fmt.Errorf("backend returned status %d", status)))
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return nil, c.fail(span, errors.NewNetworkError("Unable to load order. Please try again.", badBody(err)))
	}

	c.logger.Debug("order fetched", "order_id", resp.ID, "amount", resp.Amount)
	return &checkout.Order{ID: resp.ID, Amount: resp.Amount, Currency: resp.Currency}, nil
}

func (c *Client) Submit(ctx context.Context, req checkout.PaymentRequest) (*checkout.Payment, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Submit", trace.WithAttributes(
		attribute.String("order.id", req.Order()),
		attribute.String("payment.method", req.Method().String()),
	))
	defer span.End()

	payload, err := newPaymentBody(req)
	if err != nil {
		return nil, c.fail(span, errors.NewValidationError(err.Error(), errors.ErrCodeInvalidMethod))
	}

	status, body, err := c.do(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, c.fail(span, errors.NewNetworkError("Unable to reach the payment service. Please try again.", err))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, c.fail(span, errors.NewNetworkError("Payment service rejected the merchant credentials.", fmt.Errorf("backend returned status %d", status)))
	case status >= 400 && status < 500:
		var decline declineResponse
		_ = json.Unmarshal(body, &decline)
		c.logger.Info("payment declined", "order_id", req.Order(), "code", decline.Code, "description", decline.Description)
		return nil, c.fail(span, errors.NewRejectedError(decline.Description, errors.ErrorCode(decline.Code)))
	case status != http.StatusOK && status != http.StatusCreated:
		return nil, c.fail(span, errors.NewNetworkError("Unable to reach the payment service. Please try again.", fmt.Errorf("backend returned status %d", status)))
	}

	payment, err := decodePayment(body)
	if err != nil {
		return nil, c.fail(span, errors.NewNetworkError("Unable to reach the payment service. Please try again.", err))
	}

	span.SetAttributes(attribute.String("payment.id", payment.ID))
	c.logger.Info("payment submitted", "order_id", req.Order(), "payment_id", payment.ID, "status", payment.Status)
	return payment, nil
}

func (c *Client) GetStatus(ctx context.Context, paymentID string) (*checkout.Payment, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.GetStatus", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	status, body, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, c.fail(span, errors.NewNetworkError("Unable to check payment status", err))
	}
	if status != http.StatusOK {
		return nil, c.fail(span, errors.NewNetworkError("Unable to check payment status", fmt.Errorf("backend returned status %d", status)))
	}

	payment, err := decodePayment(body)
	if err != nil {
		return nil, c.fail(span, errors.NewNetworkError("Unable to check payment status", err))
	}

	span.SetAttributes(attribute.String("payment.status", payment.Status.String()))
	return payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	httpReq.Header.Set(HeaderAPISecret, c.apiSecret)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds())

	return resp.StatusCode, body, nil
}

func (c *Client) fail(span trace.Span, appErr *errors.AppError) error {
	span.SetStatus(codes.Error, appErr.Message)
	if appErr.Cause != nil {
		span.RecordError(appErr.Cause)
	}
	span.SetAttributes(attribute.String("error.type", string(appErr.Type)))
	return appErr
}

func decodePayment(body []byte) (*checkout.Payment, error) {
	var resp paymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, badBody(err)
	}
	if resp.ID == "" {
		return nil, badBody(nil)
	}
	status := checkout.PaymentStatus(strings.ToLower(resp.Status))
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown payment status %q", resp.Status)
	}
	return &checkout.Payment{
		ID:      resp.ID,
		Status:  status,
		OrderID: resp.OrderID,
		Method:  checkout.PaymentMethod(resp.Method),
	}, nil
}

func badBody(err error) error {
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return fmt.Errorf("failed to decode response: missing id")
}

var (
	_ OrderGateway   = (*Client)(nil)
	_ PaymentGateway = (*Client)(nil)
)
