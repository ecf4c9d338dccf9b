package checkout_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/frahmantamala/checkout/internal/checkout"
	"github.com/frahmantamala/checkout/internal/transport"
	"github.com/go-chi/chi"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Checkout Handler", func() {
	var (
		backend *fakeBackend
		store   *checkout.SessionStore
		router  *chi.Mux
	)

	BeforeEach(func() {
		backend = newFakeBackend()
		clock := clockwork.NewFakeClock()
		store = checkout.NewSessionStore(func(id string) *checkout.Machine {
			return checkout.NewMachine(backend, backend,
				checkout.WithID(id),
				checkout.WithLogger(testLogger()),
				checkout.WithClock(clock),
			)
		}, checkout.StoreConfig{Clock: clock}, testLogger())

		handler := checkout.NewHandler(&transport.BaseHandler{Logger: testLogger()}, store, []string{"order_id", "orderId"})
		router = chi.NewRouter()
		router.Route("/api/v1/checkout/sessions", func(r chi.Router) {
			r.Post("/", handler.CreateSession)
			r.Get("/{sessionID}", handler.GetSession)
			r.Delete("/{sessionID}", handler.CloseSession)
			r.Post("/{sessionID}/method", handler.SelectMethod)
			r.Patch("/{sessionID}/fields", handler.SetFields)
			r.Post("/{sessionID}/back", handler.Back)
			r.Post("/{sessionID}/submit", handler.Submit)
			r.Post("/{sessionID}/retry", handler.Retry)
		})
	})

	AfterEach(func() {
		store.CloseAll()
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeState := func(rec *httptest.ResponseRecorder) checkout.StateResponse {
		var resp checkout.StateResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	decodeError := func(rec *httptest.ResponseRecorder) map[string]interface{} {
		var resp struct {
			Error map[string]interface{} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return resp.Error
	}

	createSession := func() string {
		rec := do(http.MethodPost, "/api/v1/checkout/sessions?order_id=order_1", "")
		Expect(rec.Code).To(Equal(http.StatusCreated))
		id := decodeState(rec).SessionID
		Expect(id).NotTo(BeEmpty())
		Eventually(func() checkout.StateName {
			return decodeState(do(http.MethodGet, "/api/v1/checkout/sessions/"+id, "")).State
		}).Should(Equal(checkout.StateSelectingMethod))
		return id
	}

	It("drives a card payment to success and masks card data", func() {
		id := createSession()
		base := "/api/v1/checkout/sessions/" + id

		state := decodeState(do(http.MethodGet, base, ""))
		Expect(state.Order.Amount).To(Equal(int64(250000)))
		Expect(state.Methods).To(Equal([]string{"upi", "card"}))

		rec := do(http.MethodPost, base+"/method", `{"method":"card"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeState(rec).State).To(Equal(checkout.StateFillingForm))

		rec = do(http.MethodPatch, base+"/fields", `{"fields":{"cardNumber":"4111 1111 1111 1111","expiryMonth":"12","expiryYear":"30","cvv":"123","holderName":"Asha Rao"}}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		state = decodeState(rec)
		Expect(state.Fields).To(HaveKeyWithValue("cardNumber", "************1111"))
		Expect(state.Fields).To(HaveKeyWithValue("cvv", "***"))
		Expect(state.Fields).To(HaveKeyWithValue("holderName", "Asha Rao"))
		Expect(state.MissingFields).To(BeEmpty())
		Expect(rec.Body.String()).NotTo(ContainSubstring("4111 1111"))

		rec = do(http.MethodPost, base+"/submit", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		Eventually(func() checkout.StateResponse {
			return decodeState(do(http.MethodGet, base, ""))
		}).Should(And(
			HaveField("State", checkout.StateSuccess),
			HaveField("PaymentID", "pay_1"),
		))
	})

	It("creates an OrderNotFound session when the order id is missing", func() {
		rec := do(http.MethodPost, "/api/v1/checkout/sessions", "")
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(decodeState(rec).State).To(Equal(checkout.StateOrderNotFound))
		Expect(backend.fetchCount()).To(BeZero())
	})

	It("accepts the alternative order query parameter", func() {
		rec := do(http.MethodPost, "/api/v1/checkout/sessions?orderId=order_1", "")
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Eventually(backend.fetchCount).Should(Equal(1))
	})

	It("answers an incomplete submit with 400 and the missing fields", func() {
		id := createSession()
		base := "/api/v1/checkout/sessions/" + id
		Expect(do(http.MethodPost, base+"/method", `{"method":"upi"}`).Code).To(Equal(http.StatusOK))

		rec := do(http.MethodPost, base+"/submit", "")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		errBody := decodeError(rec)
		Expect(errBody).To(HaveKeyWithValue("type", "INCOMPLETE"))
		Expect(backend.submitCount()).To(BeZero())
	})

	It("reports invalid transitions as conflicts", func() {
		id := createSession()
		rec := do(http.MethodPost, "/api/v1/checkout/sessions/"+id+"/retry", "")
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(decodeError(rec)).To(HaveKeyWithValue("code", "INVALID_TRANSITION"))
	})

	It("rejects malformed bodies", func() {
		id := createSession()
		rec := do(http.MethodPost, "/api/v1/checkout/sessions/"+id+"/method", `{"method":`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 for unknown sessions and after teardown", func() {
		Expect(do(http.MethodGet, "/api/v1/checkout/sessions/unknown", "").Code).To(Equal(http.StatusNotFound))

		id := createSession()
		Expect(do(http.MethodDelete, "/api/v1/checkout/sessions/"+id, "").Code).To(Equal(http.StatusNoContent))
		rec := do(http.MethodGet, "/api/v1/checkout/sessions/"+id, "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(decodeError(rec)).To(HaveKeyWithValue("code", "SESSION_NOT_FOUND"))
	})
})
