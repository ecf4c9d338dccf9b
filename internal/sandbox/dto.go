package sandbox

import (
	"strings"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/core/common/validation"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
)

const defaultCurrency = "INR"

type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

func (r *CreateOrderRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required().MinInt(100, errors.ErrCodeInvalidAmount)
	validator.Field("currency", r.Currency).MaxLength(3)
	validator.Field("receipt", r.Receipt).MaxLength(64)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CreatePaymentRequest struct {
	OrderID     string `json:"orderId"`
	Method      string `json:"method"`
	VPA         string `json:"vpa,omitempty"`
	CardNumber  string `json:"cardNumber,omitempty"`
	ExpiryMonth string `json:"expiryMonth,omitempty"`
	ExpiryYear  string `json:"expiryYear,omitempty"`
	CVV         string `json:"cvv,omitempty"`
	HolderName  string `json:"holderName,omitempty"`
}

// Validate checks presence only; format checks happen in the service so they map to decline codes.
func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("orderId", r.OrderID).Required()
	validator.Field("method", r.Method).Required()

	if method, ok := checkoutDatamodel.ParseMethod(r.Method); ok {
		values := map[string]string{
			checkoutDatamodel.FieldVPA:         r.VPA,
			checkoutDatamodel.FieldCardNumber:  r.CardNumber,
			checkoutDatamodel.FieldExpiryMonth: r.ExpiryMonth,
			checkoutDatamodel.FieldExpiryYear:  r.ExpiryYear,
			checkoutDatamodel.FieldCVV:         r.CVV,
			checkoutDatamodel.FieldHolderName:  r.HolderName,
		}
		for _, field := range checkoutDatamodel.RequiredFields(method) {
			validator.Field(field, values[field]).Required()
		}
	} else if strings.TrimSpace(r.Method) != "" {
		return errors.NewValidationError("Unsupported payment method", errors.ErrCodeInvalidMethod)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type OrderResponse struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchantId"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Receipt    string    `json:"receipt,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewOrderResponse(o *sandboxDatamodel.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		MerchantID: o.MerchantID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Receipt:    deref(o.Receipt),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}
}

type PaymentResponse struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"orderId"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	Status           string    `json:"status"`
	VPA              string    `json:"vpa,omitempty"`
	CardNetwork      string    `json:"cardNetwork,omitempty"`
	CardLast4        string    `json:"cardLast4,omitempty"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	ErrorDescription string    `json:"errorDescription,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func NewPaymentResponse(p *sandboxDatamodel.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID,
		OrderID:          p.OrderID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Method:           p.Method,
		Status:           p.Status,
		VPA:              deref(p.VPA),
		CardNetwork:      deref(p.CardNetwork),
		CardLast4:        deref(p.CardLast4),
		ErrorCode:        deref(p.ErrorCode),
		ErrorDescription: deref(p.ErrorDescription),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// DeclineResponse is the flat error body payment clients read the reason from.
type DeclineResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func NewDeclineResponse(appErr *errors.AppError) DeclineResponse {
	code := appErr.Code
	if details, ok := appErr.Details.(errors.ValidationErrors); ok && len(details.Errors) == 1 && details.Errors[0].Code != "" {
		code = errors.ErrorCode(details.Errors[0].Code)
	}
	return DeclineResponse{Code: string(code), Description: appErr.GetDetailedMessage()}
}
