package checkout

import (
	"strings"

	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
)

type SelectMethodRequest struct {
	Method string `json:"method"`
}

type SetFieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

type OrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// StateResponse flattens a State for the hosting page. Card number and CVV are always masked.
type StateResponse struct {
	SessionID     string            `json:"session_id"`
	State         StateName         `json:"state"`
	OrderID       string            `json:"order_id,omitempty"`
	Order         *OrderResponse    `json:"order,omitempty"`
	Methods       []string          `json:"methods,omitempty"`
	Method        string            `json:"method,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	MissingFields []string          `json:"missing_fields,omitempty"`
	PaymentID     string            `json:"payment_id,omitempty"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	Message       string            `json:"message,omitempty"`
}

func NewStateResponse(sessionID string, s State) StateResponse {
	resp := StateResponse{SessionID: sessionID, State: s.Name()}

	switch st := s.(type) {
	case Loading:
		resp.OrderID = st.OrderID
	case OrderNotFound:
		resp.OrderID = st.OrderID
		resp.Message = "Order not found"
	case SelectingMethod:
		resp.Order = toOrderResponse(st.Order)
		for _, m := range checkoutDatamodel.Methods {
			resp.Methods = append(resp.Methods, m.String())
		}
	case FillingForm:
		resp.Order = toOrderResponse(st.Order)
		resp.Method = st.Method.String()
		resp.Fields = MaskFields(st.Fields)
		resp.MissingFields = st.Missing
		resp.Message = st.Message
	case Submitting:
		resp.Order = toOrderResponse(st.Order)
		resp.Method = st.Method.String()
	case AwaitingOutcome:
		resp.Order = toOrderResponse(st.Order)
		resp.PaymentID = st.PaymentID
		resp.PaymentStatus = st.Status.String()
	case Success:
		resp.PaymentID = st.PaymentID
		resp.PaymentStatus = checkoutDatamodel.StatusSuccess.String()
	case Failed:
		resp.PaymentID = st.PaymentID
		resp.PaymentStatus = checkoutDatamodel.StatusFailed.String()
		resp.Message = st.Reason
	case Error:
		resp.Message = st.Message
	}
	return resp
}

func toOrderResponse(o checkoutDatamodel.Order) *OrderResponse {
	return &OrderResponse{ID: o.ID, Amount: o.Amount, Currency: o.Currency}
}

// MaskFields returns a copy of fields with the card number reduced to its last four digits and the CVV hidden.
func MaskFields(fields map[string]string) map[string]string {
	masked := make(map[string]string, len(fields))
	for k, v := range fields {
		switch k {
		case checkoutDatamodel.FieldCardNumber:
			masked[k] = MaskCardNumber(v)
		case checkoutDatamodel.FieldCVV:
			if v != "" {
				masked[k] = "***"
			} else {
				masked[k] = ""
			}
		default:
			masked[k] = v
		}
	}
	return masked
}

func MaskCardNumber(number string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
