package sandbox_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	errors "github.com/frahmantamala/checkout/internal"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/frahmantamala/checkout/internal/gateway"
	"github.com/frahmantamala/checkout/internal/sandbox"
	"github.com/frahmantamala/checkout/internal/transport"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		f      *fixture
		server *httptest.Server
		client *gateway.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(sandbox.SettlerConfig{UPISuccessRate: 1, CardSuccessRate: 1, Rand: always(0.1)})

		handler := sandbox.NewHandler(transport.NewBaseHandler(testLogger()), f.service)
		router := chi.NewRouter()
		router.Route("/api/v1", handler.Routes)
		server = httptest.NewServer(router)
		DeferCleanup(server.Close)

		client = gateway.NewClient(gateway.Config{
			BaseURL:   server.URL + "/api/v1",
			APIKey:    testCredentials.APIKey,
			APISecret: testCredentials.APISecret,
		}, testLogger())
	})

	post := func(path string, body interface{}, key, secret string) *http.Response {
		payload, err := json.Marshal(body)
		Expect(err).ToNot(HaveOccurred())
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1"+path, bytes.NewReader(payload))
		Expect(err).ToNot(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(gateway.HeaderAPIKey, key)
		req.Header.Set(gateway.HeaderAPISecret, secret)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	It("creates an order for the authenticated merchant", func() {
		resp := post("/orders", map[string]interface{}{"amount": 50000, "currency": "inr"}, testCredentials.APIKey, testCredentials.APISecret)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var order sandbox.OrderResponse
		Expect(json.NewDecoder(resp.Body).Decode(&order)).To(Succeed())
		Expect(order.ID).To(HavePrefix("order_"))
		Expect(order.Currency).To(Equal("INR"))
		Expect(order.MerchantID).To(Equal(f.merchant.ID))
	})

	It("rejects requests without valid credentials using the flat error body", func() {
		resp := post("/orders", map[string]interface{}{"amount": 50000}, testCredentials.APIKey, "wrong")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		var decline sandbox.DeclineResponse
		Expect(json.NewDecoder(resp.Body).Decode(&decline)).To(Succeed())
		Expect(decline.Code).To(Equal(string(errors.ErrCodeAuthentication)))
		Expect(decline.Description).To(Equal("Invalid API credentials"))
	})

	Context("through the checkout gateway client", func() {
		It("loads the order", func() {
			created := f.order(149900)
			order, err := client.FetchOrder(ctx, created.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(order.ID).To(Equal(created.ID))
			Expect(order.Amount).To(Equal(int64(149900)))
		})

		It("reports an unknown order as not found", func() {
			_, err := client.FetchOrder(ctx, "order_missing")
			Expect(errors.IsType(err, errors.ErrorTypeNotFound)).To(BeTrue())
		})

		It("submits a payment and reads its final status", func() {
			created := f.order(50000)
			payment, err := client.Submit(ctx, checkoutDatamodel.UPIPayment{OrderID: created.ID, VPA: "payer@okbank"})
			Expect(err).ToNot(HaveOccurred())
			Expect(payment.Status).To(Equal(checkoutDatamodel.StatusProcessing))

			f.pool.Wait()
			latest, err := client.GetStatus(ctx, payment.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(latest.Status).To(Equal(checkoutDatamodel.StatusSuccess))
		})

		It("turns a decline into a rejection carrying the reason", func() {
			created := f.order(50000)
			_, err := client.Submit(ctx, checkoutDatamodel.CardPayment{
				OrderID:     created.ID,
				CardNumber:  "4111111111111112",
				ExpiryMonth: "12",
				ExpiryYear:  "30",
				CVV:         "123",
				HolderName:  "A Payer",
			})
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(errors.ErrorTypeRejected))
			Expect(appErr.Code).To(Equal(errors.ErrCodeInvalidCard))
			Expect(appErr.Message).To(Equal("Invalid card number"))
		})

		It("reports bad merchant credentials as a network error", func() {
			bad := gateway.NewClient(gateway.Config{BaseURL: server.URL + "/api/v1", APIKey: "nope", APISecret: "nope"}, testLogger())
			_, err := bad.FetchOrder(ctx, "order_any")
			Expect(errors.IsType(err, errors.ErrorTypeNetwork)).To(BeTrue())
		})
	})
})
