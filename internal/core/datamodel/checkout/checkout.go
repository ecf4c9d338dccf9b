package checkout

import "strings"

type PaymentMethod string

const (
	MethodUPI  PaymentMethod = "upi"
	MethodCard PaymentMethod = "card"
)

// Methods lists the methods offered on the selection screen, in display order.
var Methods = []PaymentMethod{MethodUPI, MethodCard}

func ParseMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, true
		}
	}
	return "", false
}

func (m PaymentMethod) String() string {
	return string(m)
}

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusSuccess    PaymentStatus = "success"
	StatusFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Order amounts are minor currency units.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// Payment is the latest snapshot fetched from the backend; it is replaced, never edited.
type Payment struct {
	ID      string        `json:"id"`
	Status  PaymentStatus `json:"status"`
	OrderID string        `json:"order_id,omitempty"`
	Method  PaymentMethod `json:"method,omitempty"`
}

// PaymentRequest is one of UPIPayment or CardPayment.
type PaymentRequest interface {
	Method() PaymentMethod
	Order() string
	paymentRequest()
}

type UPIPayment struct {
	OrderID string
	VPA     string
}

func (UPIPayment) Method() PaymentMethod { return MethodUPI }
func (p UPIPayment) Order() string       { return p.OrderID }
func (UPIPayment) paymentRequest()       {}

type CardPayment struct {
	OrderID     string
	CardNumber  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
	HolderName  string
}

func (CardPayment) Method() PaymentMethod { return MethodCard }
func (p CardPayment) Order() string       { return p.OrderID }
func (CardPayment) paymentRequest()       {}

// Form field names shared by the form model, the HTTP surface and the wire format.
const (
	FieldVPA         = "vpa"
	FieldCardNumber  = "cardNumber"
	FieldExpiryMonth = "expiryMonth"
	FieldExpiryYear  = "expiryYear"
	FieldCVV         = "cvv"
	FieldHolderName  = "holderName"
)

// RequiredFields returns the fields that must be non-empty for method.
func RequiredFields(method PaymentMethod) []string {
	switch method {
	case MethodUPI:
		return []string{FieldVPA}
	case MethodCard:
		return []string{FieldCardNumber, FieldExpiryMonth, FieldExpiryYear, FieldCVV, FieldHolderName}
	}
	return nil
}
