package checkout

import (
	"net/http"
	"strings"

	"github.com/frahmantamala/checkout/internal"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/frahmantamala/checkout/internal/transport"
	"github.com/frahmantamala/checkout/pkg/logger"
	"github.com/go-chi/chi"
)

type SessionsAPI interface {
	Create(orderID string) (*Machine, error)
	Get(id string) (*Machine, error)
	Close(id string) error
}

type Handler struct {
	*transport.BaseHandler
	Sessions         SessionsAPI
	OrderQueryParams []string
}

// NewHandler reads the order id from the first non-empty query parameter in orderQueryParams.
func NewHandler(baseHandler *transport.BaseHandler, sessions SessionsAPI, orderQueryParams []string) *Handler {
	if len(orderQueryParams) == 0 {
		orderQueryParams = []string{"order_id"}
	}
	return &Handler{
		BaseHandler:      baseHandler,
		Sessions:         sessions,
		OrderQueryParams: orderQueryParams,
	}
}

func (h *Handler) orderID(r *http.Request) string {
	query := r.URL.Query()
	for _, name := range h.OrderQueryParams {
		if v := strings.TrimSpace(query.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// CreateSession opens a session for ?order_id=. A missing id still creates a session, in OrderNotFound.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	m, err := h.Sessions.Create(h.orderID(r))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/checkout/sessions/"+m.ID())
	h.WriteJSON(w, http.StatusCreated, NewStateResponse(m.ID(), m.State()))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, nil)
}

func (h *Handler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var req SelectMethodRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.act(w, r, func(m *Machine) error {
		return m.SelectMethod(checkoutDatamodel.PaymentMethod(req.Method))
	})
}

func (h *Handler) SetFields(w http.ResponseWriter, r *http.Request) {
	var req SetFieldsRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.act(w, r, func(m *Machine) error {
		return m.SetFields(req.Fields)
	})
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, (*Machine).Back)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, (*Machine).Submit)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, (*Machine).Retry)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "sessionID")); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// act applies action to the addressed session and responds with the resulting state.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, action func(*Machine) error) {
	id := chi.URLParam(r, "sessionID")
	ctx := internal.ContextWithSessionID(r.Context(), id)
	r = r.WithContext(logger.With(ctx, "session_id", id))

	m, err := h.Sessions.Get(id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	if action != nil {
		if err := action(m); err != nil {
			h.HandleServiceError(w, r, err)
			return
		}
	}

	h.WriteJSON(w, http.StatusOK, NewStateResponse(id, m.State()))
}
