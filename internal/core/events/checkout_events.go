package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSubmitted  = "checkout.payment_submitted"
	EventTypeCheckoutSucceeded = "checkout.succeeded"
	EventTypeCheckoutFailed    = "checkout.failed"
)

type PaymentSubmittedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
}

func NewPaymentSubmittedEvent(sessionID, orderID, paymentID, method string, amount int64) *PaymentSubmittedEvent {
	return &PaymentSubmittedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSubmitted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session_id": sessionID,
				"order_id":   orderID,
				"payment_id": paymentID,
				"method":     method,
				"amount":     amount,
			},
		},
		SessionID: sessionID,
		OrderID:   orderID,
		PaymentID: paymentID,
		Method:    method,
		Amount:    amount,
	}
}

type CheckoutSucceededEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

func NewCheckoutSucceededEvent(sessionID, orderID, paymentID string) *CheckoutSucceededEvent {
	return &CheckoutSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeCheckoutSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session_id": sessionID,
				"order_id":   orderID,
				"payment_id": paymentID,
			},
		},
		SessionID: sessionID,
		OrderID:   orderID,
		PaymentID: paymentID,
	}
}

type CheckoutFailedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func NewCheckoutFailedEvent(sessionID, orderID, paymentID, reason string) *CheckoutFailedEvent {
	return &CheckoutFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeCheckoutFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session_id": sessionID,
				"order_id":   orderID,
				"payment_id": paymentID,
				"reason":     reason,
			},
		},
		SessionID: sessionID,
		OrderID:   orderID,
		PaymentID: paymentID,
		Reason:    reason,
	}
}
