package sandbox

import (
	"context"
	"encoding/json"
	"net/http"

	errors "github.com/frahmantamala/checkout/internal"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/frahmantamala/checkout/internal/transport"
	"github.com/frahmantamala/checkout/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Authenticator
	CreateOrder(ctx context.Context, merchant *sandboxDatamodel.Merchant, req CreateOrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, merchant *sandboxDatamodel.Merchant, id string) (*OrderResponse, error)
	CreatePayment(ctx context.Context, merchant *sandboxDatamodel.Merchant, req CreatePaymentRequest) (*PaymentResponse, error)
	GetPayment(ctx context.Context, merchant *sandboxDatamodel.Merchant, id string) (*PaymentResponse, error)
}

// Handler serves the merchant facing backend API. Errors use the flat
// {code, description} body rather than the checkout API envelope.
type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// Routes mounts the endpoints behind merchant authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(MerchantAuth(h.Service))
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/payments", h.CreatePayment)
		r.Get("/payments/{paymentID}", h.GetPayment)
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	merchant, _ := MerchantFromContext(r.Context())

	var req CreateOrderRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.Service.CreateOrder(r.Context(), merchant, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	merchant, _ := MerchantFromContext(r.Context())

	resp, err := h.Service.GetOrder(r.Context(), merchant, chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	merchant, _ := MerchantFromContext(r.Context())

	var req CreatePaymentRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.Service.CreatePayment(r.Context(), merchant, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	merchant, _ := MerchantFromContext(r.Context())

	resp, err := h.Service.GetPayment(r.Context(), merchant, chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.IsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("Internal server error", err)
	}

	log := h.Logger
	if l, ok := logger.FromContext(r.Context()); ok {
		log = l
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		log.Error("sandbox request failed", "path", r.URL.Path, "code", appErr.Code, "error", err)
	} else {
		log.Info("sandbox request declined", "path", r.URL.Path, "code", appErr.Code, "message", appErr.GetDetailedMessage())
	}
	writeDecline(w, appErr)
}

func writeDecline(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(NewDeclineResponse(appErr))
}
