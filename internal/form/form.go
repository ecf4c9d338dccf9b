// Package form holds the payer's input for the selected payment method.
package form

import (
	"strings"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/core/common/validation"
	"github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
)

// Model is not safe for concurrent use; the checkout machine owns it from its event loop.
type Model struct {
	method checkout.PaymentMethod
	values map[string]string
}

func New() *Model {
	return &Model{values: make(map[string]string)}
}

// Select switches the active method and discards every value entered so far.
func (m *Model) Select(method checkout.PaymentMethod) {
	m.method = method
	m.values = make(map[string]string)
}

func (m *Model) Method() checkout.PaymentMethod {
	return m.method
}

// Reset clears both the method and the values.
func (m *Model) Reset() {
	m.Select("")
}

func (m *Model) SetField(name, value string) {
	m.values[name] = value
}

func (m *Model) Field(name string) string {
	return m.values[name]
}

// Fields returns a copy of the entered values.
func (m *Model) Fields() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *Model) IsComplete() bool {
	return m.method != "" && len(m.Missing()) == 0
}

// Missing lists required fields for the active method that are still empty, in form order.
func (m *Model) Missing() []string {
	return m.check().Fields()
}

func (m *Model) check() errors.ValidationErrors {
	v := validation.NewValidator()
	for _, name := range checkout.RequiredFields(m.method) {
		v.Field(name, m.values[name]).Required()
	}
	return errors.ValidationErrors{Errors: v.Errors()}
}

// ToRequest builds the payment request for orderID or fails with an Incomplete error.
func (m *Model) ToRequest(orderID string) (checkout.PaymentRequest, error) {
	if m.method == "" {
		return nil, errors.NewValidationError("Please choose a payment method", errors.ErrCodeInvalidMethod)
	}
	if missing := m.check(); len(missing.Errors) > 0 {
		return nil, errors.NewIncompleteError(missing)
	}

	value := func(name string) string { return strings.TrimSpace(m.values[name]) }

	switch m.method {
	case checkout.MethodUPI:
		return checkout.UPIPayment{OrderID: orderID, VPA: value(checkout.FieldVPA)}, nil
	case checkout.MethodCard:
		return checkout.CardPayment{
			OrderID:     orderID,
			CardNumber:  value(checkout.FieldCardNumber),
			ExpiryMonth: value(checkout.FieldExpiryMonth),
			ExpiryYear:  value(checkout.FieldExpiryYear),
			CVV:         value(checkout.FieldCVV),
			HolderName:  value(checkout.FieldHolderName),
		}, nil
	}
	return nil, errors.NewValidationError("Unsupported payment method", errors.ErrCodeInvalidMethod)
}
