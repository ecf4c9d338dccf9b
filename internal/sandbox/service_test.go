package sandbox_test

import (
	"context"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	sandboxDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/sandbox"
	"github.com/frahmantamala/checkout/internal/sandbox"
	"github.com/frahmantamala/checkout/internal/sandbox/postgres"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var testCredentials = sandbox.MerchantCredentials{
	Name:       "Test Merchant",
	Email:      "test@example.com",
	APIKey:     "key_test_abc123",
	APISecret:  "secret_test_xyz789",
	BCryptCost: bcrypt.MinCost,
}

type fixture struct {
	db       *gorm.DB
	repo     sandbox.RepositoryAPI
	pool     *sandbox.Pool
	service  *sandbox.Service
	clock    *clockwork.FakeClock
	merchant *sandboxDatamodel.Merchant
}

func newFixture(config sandbox.SettlerConfig) *fixture {
	db := openTestDB()

	f := &fixture{
		db:    db,
		repo:  postgres.NewStore(db),
		clock: clockwork.NewFakeClockAt(time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)),
	}
	config.Clock = f.clock
	f.pool = sandbox.NewPool(f.repo, config, testLogger())
	f.service = sandbox.NewService(f.repo, f.pool, f.clock, testLogger())

	merchant, created, err := f.service.EnsureMerchant(context.Background(), testCredentials)
	Expect(err).ToNot(HaveOccurred())
	Expect(created).To(BeTrue())
	f.merchant = merchant

	DeferCleanup(func() {
		f.pool.Shutdown()
		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})
	return f
}

func always(v float64) func() float64 {
	return func() float64 { return v }
}

func (f *fixture) order(amount int64) *sandbox.OrderResponse {
	order, err := f.service.CreateOrder(context.Background(), f.merchant, sandbox.CreateOrderRequest{Amount: amount})
	Expect(err).ToNot(HaveOccurred())
	return order
}

func upiPayment(orderID string) sandbox.CreatePaymentRequest {
	return sandbox.CreatePaymentRequest{OrderID: orderID, Method: "upi", VPA: "payer@okbank"}
}

func cardPayment(orderID string) sandbox.CreatePaymentRequest {
	return sandbox.CreatePaymentRequest{
		OrderID:     orderID,
		Method:      "card",
		CardNumber:  "4111 1111 1111 1111",
		ExpiryMonth: "12",
		ExpiryYear:  "30",
		CVV:         "123",
		HolderName:  "A Payer",
	}
}

var _ = Describe("Service", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(sandbox.SettlerConfig{MaxWorkers: 2, UPISuccessRate: 1, CardSuccessRate: 1, Rand: always(0.5)})
	})

	Describe("merchants", func() {
		It("does not create the merchant twice", func() {
			merchant, created, err := f.service.EnsureMerchant(ctx, testCredentials)
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(merchant.ID).To(Equal(f.merchant.ID))
		})

		It("stores only a hash of the secret", func() {
			Expect(f.merchant.APISecretHash).ToNot(Equal(testCredentials.APISecret))
			Expect(bcrypt.CompareHashAndPassword([]byte(f.merchant.APISecretHash), []byte(testCredentials.APISecret))).To(Succeed())
		})

		It("authenticates with the right key and secret", func() {
			merchant, err := f.service.Authenticate(ctx, testCredentials.APIKey, testCredentials.APISecret)
			Expect(err).ToNot(HaveOccurred())
			Expect(merchant.ID).To(Equal(f.merchant.ID))
		})

		DescribeTable("rejects bad credentials",
			func(key, secret string) {
				_, err := f.service.Authenticate(ctx, key, secret)
				Expect(errors.IsType(err, errors.ErrorTypeUnauthorized)).To(BeTrue())
			},
			Entry("wrong secret", "key_test_abc123", "wrong"),
			Entry("unknown key", "key_other", "secret_test_xyz789"),
			Entry("missing key", "", "secret_test_xyz789"),
			Entry("missing secret", "key_test_abc123", ""),
		)
	})

	Describe("orders", func() {
		It("creates an order with the default currency", func() {
			order := f.order(50000)
			Expect(order.ID).To(HavePrefix("order_"))
			Expect(order.Currency).To(Equal("INR"))
			Expect(order.Status).To(Equal(sandboxDatamodel.OrderStatusCreated))

			fetched, err := f.service.GetOrder(ctx, f.merchant, order.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fetched.Amount).To(Equal(int64(50000)))
		})

		It("rejects an amount below the minimum", func() {
			_, err := f.service.CreateOrder(ctx, f.merchant, sandbox.CreateOrderRequest{Amount: 50})
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
			Expect(sandbox.NewDeclineResponse(appErr).Code).To(Equal(string(errors.ErrCodeInvalidAmount)))
		})

		It("hides orders belonging to another merchant", func() {
			order := f.order(50000)
			other := &sandboxDatamodel.Merchant{ID: "someone-else"}
			_, err := f.service.GetOrder(ctx, other, order.ID)
			Expect(err).To(Equal(sandbox.ErrOrderNotFound))
		})

		It("reports a missing order as not found", func() {
			_, err := f.service.GetOrder(ctx, f.merchant, "order_missing")
			Expect(errors.IsType(err, errors.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("payments", func() {
		It("accepts a upi payment as processing and settles it", func() {
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())
			Expect(payment.ID).To(HavePrefix("pay_"))
			Expect(payment.Status).To(Equal("processing"))
			Expect(payment.VPA).To(Equal("payer@okbank"))

			f.pool.Wait()
			settled, err := f.service.GetPayment(ctx, f.merchant, payment.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(settled.Status).To(Equal("success"))

			fetched, err := f.service.GetOrder(ctx, f.merchant, order.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fetched.Status).To(Equal(sandboxDatamodel.OrderStatusPaid))
		})

		It("keeps only the network and last four digits of a card", func() {
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, cardPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())
			Expect(payment.CardNetwork).To(Equal("visa"))
			Expect(payment.CardLast4).To(Equal("1111"))
		})

		DescribeTable("declines invalid details",
			func(mutate func(*sandbox.CreatePaymentRequest), code errors.ErrorCode) {
				order := f.order(50000)
				req := cardPayment(order.ID)
				mutate(&req)
				_, err := f.service.CreatePayment(ctx, f.merchant, req)
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(sandbox.NewDeclineResponse(appErr).Code).To(Equal(string(code)))
			},
			Entry("luhn failure", func(r *sandbox.CreatePaymentRequest) { r.CardNumber = "4111111111111112" }, errors.ErrCodeInvalidCard),
			Entry("expired", func(r *sandbox.CreatePaymentRequest) { r.ExpiryYear = "2024" }, errors.ErrCodeExpiredCard),
			Entry("short cvv", func(r *sandbox.CreatePaymentRequest) { r.CVV = "12" }, errors.ErrCodeInvalidCVV),
			Entry("bad vpa", func(r *sandbox.CreatePaymentRequest) {
				*r = sandbox.CreatePaymentRequest{OrderID: r.OrderID, Method: "upi", VPA: "nobank"}
			}, errors.ErrCodeInvalidVPA),
			Entry("unknown method", func(r *sandbox.CreatePaymentRequest) { r.Method = "wallet" }, errors.ErrCodeInvalidMethod),
		)

		It("lists every missing field", func() {
			order := f.order(50000)
			_, err := f.service.CreatePayment(ctx, f.merchant, sandbox.CreatePaymentRequest{OrderID: order.ID, Method: "card", CardNumber: "4111111111111111"})
			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			details, ok := appErr.Details.(errors.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Fields()).To(ConsistOf("expiryMonth", "expiryYear", "cvv", "holderName"))
		})

		It("declines a payment for an unknown order", func() {
			_, err := f.service.CreatePayment(ctx, f.merchant, upiPayment("order_missing"))
			Expect(err).To(Equal(sandbox.ErrOrderNotFound))
		})

		It("declines a second payment once the order is paid", func() {
			order := f.order(50000)
			_, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())
			f.pool.Wait()

			_, err = f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).To(Equal(sandbox.ErrOrderPaid))
		})

		It("reports another merchant's payment as not found", func() {
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())

			_, err = f.service.GetPayment(ctx, &sandboxDatamodel.Merchant{ID: "someone-else"}, payment.ID)
			Expect(err).To(Equal(sandbox.ErrPaymentNotFound))
		})
	})

	Describe("settlement", func() {
		It("fails payments when the draw exceeds the success rate", func() {
			f = newFixture(sandbox.SettlerConfig{UPISuccessRate: 0.9, CardSuccessRate: 0.9, Rand: always(0.95)})
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())

			f.pool.Wait()
			settled, err := f.service.GetPayment(ctx, f.merchant, payment.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(settled.Status).To(Equal("failed"))
			Expect(settled.ErrorCode).To(Equal("PAYMENT_FAILED"))
			Expect(settled.ErrorDescription).ToNot(BeEmpty())

			fetched, err := f.service.GetOrder(ctx, f.merchant, order.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fetched.Status).To(Equal(sandboxDatamodel.OrderStatusCreated))
		})

		It("waits for the settlement delay before finalising", func() {
			f = newFixture(sandbox.SettlerConfig{MinDelay: 5 * time.Second, MaxDelay: 5 * time.Second, UPISuccessRate: 1, Rand: always(0)})
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())

			Expect(f.clock.BlockUntilContext(ctx, 1)).To(Succeed())
			current, err := f.service.GetPayment(ctx, f.merchant, payment.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(current.Status).To(Equal("processing"))

			f.clock.Advance(5 * time.Second)
			f.pool.Wait()
			current, err = f.service.GetPayment(ctx, f.merchant, payment.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(current.Status).To(Equal("success"))
		})

		It("fails a payment immediately when the queue is closed", func() {
			f.pool.Shutdown()
			order := f.order(50000)
			payment, err := f.service.CreatePayment(ctx, f.merchant, upiPayment(order.ID))
			Expect(err).ToNot(HaveOccurred())
			Expect(payment.Status).To(Equal("failed"))
			Expect(payment.ErrorCode).To(Equal("SETTLEMENT_UNAVAILABLE"))
		})
	})

	It("seeds sample orders for the test merchant", func() {
		orders, err := f.service.Seed(ctx, testCredentials, sandbox.SampleOrderAmounts)
		Expect(err).ToNot(HaveOccurred())
		Expect(orders).To(HaveLen(len(sandbox.SampleOrderAmounts)))
		for _, order := range orders {
			Expect(order.MerchantID).To(Equal(f.merchant.ID))
		}
	})
})
