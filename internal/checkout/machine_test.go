package checkout_test

import (
	"context"
	"sync"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/checkout"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/frahmantamala/checkout/internal/core/events"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var order1 = checkoutDatamodel.Order{ID: "order_1", Amount: 250000}

var cardFields = map[string]string{
	checkoutDatamodel.FieldCardNumber:  "4111111111111111",
	checkoutDatamodel.FieldExpiryMonth: "12",
	checkoutDatamodel.FieldExpiryYear:  "30",
	checkoutDatamodel.FieldCVV:         "123",
	checkoutDatamodel.FieldHolderName:  "Asha Rao",
}

type transitionLog struct {
	mu    sync.Mutex
	names []checkout.StateName
}

func (l *transitionLog) hook(_, to checkout.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.names); n == 0 || l.names[n-1] != to.Name() {
		l.names = append(l.names, to.Name())
	}
}

func (l *transitionLog) all() []checkout.StateName {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]checkout.StateName(nil), l.names...)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	polls    []string
}

func (r *outcomeRecorder) ObserveTransition(string, string) {}

func (r *outcomeRecorder) ObserveOutcome(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *outcomeRecorder) ObservePollUpdate(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, kind)
}

func (r *outcomeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

var _ = Describe("Machine", func() {
	var (
		backend *fakeBackend
		clock   *clockwork.FakeClock
		log     *transitionLog
		m       *checkout.Machine
	)

	newMachine := func(opts ...checkout.Option) *checkout.Machine {
		base := []checkout.Option{
			checkout.WithID("sess_test"),
			checkout.WithLogger(testLogger()),
			checkout.WithClock(clock),
			checkout.WithPollInterval(2 * time.Second),
			checkout.WithPollCeiling(30 * time.Second),
			checkout.WithTransitionHook(log.hook),
		}
		return checkout.NewMachine(backend, backend, append(base, opts...)...)
	}

	state := func() checkout.State { return m.State() }
	stateName := func() checkout.StateName { return m.State().Name() }

	reachForm := func(method checkoutDatamodel.PaymentMethod) {
		Expect(m.Start("order_1")).To(Succeed())
		Eventually(stateName).Should(Equal(checkout.StateSelectingMethod))
		Expect(m.SelectMethod(method)).To(Succeed())
	}

	BeforeEach(func() {
		backend = newFakeBackend()
		clock = clockwork.NewFakeClock()
		log = &transitionLog{}
	})

	AfterEach(func() {
		if m != nil {
			m.Close()
		}
	})

	Describe("loading the order", func() {
		It("offers method selection with the fetched order", func() {
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(state).Should(Equal(checkout.SelectingMethod{Order: order1}))
		})

		It("shows OrderNotFound for an unknown order", func() {
			m = newMachine()
			Expect(m.Start("order_missing")).To(Succeed())
			Eventually(state).Should(Equal(checkout.OrderNotFound{OrderID: "order_missing"}))
		})

		It("shows OrderNotFound without fetching when the order id is absent", func() {
			m = newMachine()
			Expect(m.Start("  ")).To(Succeed())
			Expect(state()).To(Equal(checkout.OrderNotFound{}))
			Consistently(backend.fetchCount, 50*time.Millisecond).Should(BeZero())
		})

		It("shows Error on a network failure and reloads on retry", func() {
			backend.orderErr = errors.NewNetworkError("Unable to load order. Please try again.", nil)
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(state).Should(Equal(checkout.Error{Message: "Unable to load order. Please try again."}))

			backend.mu.Lock()
			backend.orderErr = nil
			backend.mu.Unlock()

			Expect(m.Retry()).To(Succeed())
			Eventually(state).Should(Equal(checkout.SelectingMethod{Order: order1}))
			Expect(backend.fetchCount()).To(Equal(2))
		})

		It("refuses to start twice", func() {
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			err := m.Start("order_1")
			Expect(errors.IsType(err, errors.ErrorTypeConflict)).To(BeTrue())
		})
	})

	Describe("paying by card", func() {
		It("reaches Success for pay_1", func() {
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())

			current, ok := state().(checkout.FillingForm)
			Expect(ok).To(BeTrue())
			Expect(current.Missing).To(BeEmpty())

			Expect(m.Submit()).To(Succeed())
			Eventually(state).Should(Equal(checkout.Success{PaymentID: "pay_1"}))

			Expect(backend.submitCount()).To(Equal(1))
			Expect(backend.requests[0]).To(Equal(checkoutDatamodel.CardPayment{
				OrderID:     "order_1",
				CardNumber:  "4111111111111111",
				ExpiryMonth: "12",
				ExpiryYear:  "30",
				CVV:         "123",
				HolderName:  "Asha Rao",
			}))
			Eventually(log.all).Should(Equal([]checkout.StateName{
				checkout.StateLoading,
				checkout.StateSelectingMethod,
				checkout.StateFillingForm,
				checkout.StateSubmitting,
				checkout.StateAwaitingOutcome,
				checkout.StateSuccess,
			}))
		})

		It("tracks non-terminal statuses while awaiting the outcome", func() {
			backend.statusReplies = always(checkoutDatamodel.StatusPending)
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())

			Eventually(state).Should(Equal(checkout.AwaitingOutcome{Order: order1, PaymentID: "pay_1", Status: checkoutDatamodel.StatusPending}))
		})

		It("resolves straight away when submission already returns a terminal status", func() {
			backend.submitted = &checkoutDatamodel.Payment{ID: "pay_1", Status: checkoutDatamodel.StatusSuccess}
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())

			Eventually(state).Should(Equal(checkout.Success{PaymentID: "pay_1"}))
			Consistently(backend.statusCount, 50*time.Millisecond).Should(BeZero())
		})
	})

	Describe("incomplete forms", func() {
		It("blocks an empty UPI form without calling the backend", func() {
			m = newMachine()
			reachForm(checkoutDatamodel.MethodUPI)

			err := m.Submit()
			Expect(errors.IsType(err, errors.ErrorTypeIncomplete)).To(BeTrue())

			current, ok := state().(checkout.FillingForm)
			Expect(ok).To(BeTrue())
			Expect(current.Method).To(Equal(checkoutDatamodel.MethodUPI))
			Expect(current.Message).To(Equal("vpa is required"))
			Expect(current.Missing).To(Equal([]string{checkoutDatamodel.FieldVPA}))
			Consistently(backend.submitCount, 50*time.Millisecond).Should(BeZero())
		})

		It("clears the message once the missing fields are filled in", func() {
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetField(checkoutDatamodel.FieldCardNumber, "4111111111111111")).To(Succeed())
			Expect(errors.IsType(m.Submit(), errors.ErrorTypeIncomplete)).To(BeTrue())

			Expect(m.SetField(checkoutDatamodel.FieldCVV, "123")).To(Succeed())
			Expect(state().(checkout.FillingForm).Message).NotTo(BeEmpty())

			Expect(m.SetFields(cardFields)).To(Succeed())
			current := state().(checkout.FillingForm)
			Expect(current.Missing).To(BeEmpty())
			Expect(current.Message).To(BeEmpty())
		})

		It("rejects fields that do not belong to the method", func() {
			m = newMachine()
			reachForm(checkoutDatamodel.MethodUPI)

			err := m.SetField(checkoutDatamodel.FieldCVV, "123")
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue())
			Expect(state().(checkout.FillingForm).Fields).To(BeEmpty())
		})
	})

	Describe("submission failures", func() {
		It("returns to the form with the decline reason and the fields intact", func() {
			backend.submitErr = errors.NewRejectedError("insufficient funds", "")
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())

			Eventually(stateName).Should(Equal(checkout.StateFillingForm))
			Eventually(func() string { return state().(checkout.FillingForm).Message }).Should(Equal("insufficient funds"))

			current := state().(checkout.FillingForm)
			Expect(current.Fields).To(Equal(cardFields))
			Expect(current.Method).To(Equal(checkoutDatamodel.MethodCard))
			Expect(backend.submitCount()).To(Equal(1))
		})

		It("returns to the form on a network error and allows another attempt", func() {
			backend.submitErr = errors.NewNetworkError("Unable to reach the payment service. Please try again.", nil)
			m = newMachine()
			reachForm(checkoutDatamodel.MethodUPI)
			Expect(m.SetField(checkoutDatamodel.FieldVPA, "asha@okbank")).To(Succeed())
			Expect(m.Submit()).To(Succeed())

			Eventually(func() string {
				if f, ok := state().(checkout.FillingForm); ok {
					return f.Message
				}
				return ""
			}).Should(Equal("Unable to reach the payment service. Please try again."))

			backend.mu.Lock()
			backend.submitErr = nil
			backend.mu.Unlock()

			Expect(m.Submit()).To(Succeed())
			Eventually(state).Should(Equal(checkout.Success{PaymentID: "pay_1"}))
			Expect(backend.submitCount()).To(Equal(2))
		})
	})

	Describe("stale responses", func() {
		It("discards a submission response that arrives after the payer went back", func() {
			backend.submitGate = make(chan struct{})
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			Expect(stateName()).To(Equal(checkout.StateSubmitting))
			Eventually(backend.submitCount).Should(Equal(1))

			Expect(m.Back()).To(Succeed())
			close(backend.submitGate)

			Consistently(state, 100*time.Millisecond).Should(Equal(checkout.SelectingMethod{Order: order1}))
			Expect(backend.statusCount()).To(BeZero())
		})

		It("ignores a status reply for a payment superseded by a new submission", func() {
			release := make(chan struct{})
			backend.submitQueue = []*checkoutDatamodel.Payment{
				{ID: "pay_1", Status: checkoutDatamodel.StatusProcessing},
				{ID: "pay_2", Status: checkoutDatamodel.StatusProcessing},
			}
			backend.statusByID = func(paymentID string, n int) statusReply {
				if paymentID == "pay_1" && n == 2 {
					<-release
					return statusReply{payment: &checkoutDatamodel.Payment{ID: "pay_1", Status: checkoutDatamodel.StatusSuccess}}
				}
				return statusReply{payment: &checkoutDatamodel.Payment{ID: paymentID, Status: checkoutDatamodel.StatusPending}}
			}
			countFor := func(id string) func() int {
				return func() int { return backend.statusCountFor(id) }
			}

			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			Eventually(state).Should(Equal(checkout.AwaitingOutcome{Order: order1, PaymentID: "pay_1", Status: checkoutDatamodel.StatusPending}))

			clock.Advance(2 * time.Second)
			Eventually(countFor("pay_1")).Should(Equal(2))
			clock.Advance(28 * time.Second)
			Eventually(state).Should(Equal(checkout.Failed{PaymentID: "pay_1", Reason: checkout.ReasonTimedOut}))

			Expect(m.Retry()).To(Succeed())
			Expect(m.SelectMethod(checkoutDatamodel.MethodCard)).To(Succeed())
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			pending2 := checkout.AwaitingOutcome{Order: order1, PaymentID: "pay_2", Status: checkoutDatamodel.StatusPending}
			Eventually(state).Should(Equal(pending2))

			close(release)
			Consistently(state, 100*time.Millisecond).Should(Equal(pending2))
			Expect(backend.statusCountFor("pay_1")).To(Equal(2))
		})

		It("waits for the reload after Error and applies only its result", func() {
			backend.orderErr = errors.NewNetworkError("Unable to load order. Please try again.", nil)
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(stateName).Should(Equal(checkout.StateError))

			gate := make(chan struct{})
			backend.mu.Lock()
			backend.orderErr = nil
			backend.fetchGate = gate
			backend.mu.Unlock()

			Expect(m.Retry()).To(Succeed())
			Eventually(backend.fetchCount).Should(Equal(2))
			Consistently(state, 50*time.Millisecond).Should(Equal(checkout.Loading{OrderID: "order_1"}))

			err := m.Retry()
			Expect(errors.IsType(err, errors.ErrorTypeConflict)).To(BeTrue())

			close(gate)
			Eventually(state).Should(Equal(checkout.SelectingMethod{Order: order1}))
			Expect(backend.fetchCount()).To(Equal(2))
		})

		It("drops an order that arrives after the session closed", func() {
			gate := make(chan struct{})
			backend.fetchGate = gate
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(backend.fetchCount).Should(Equal(1))

			m.Close()
			close(gate)
			Consistently(state, 100*time.Millisecond).Should(Equal(checkout.Loading{OrderID: "order_1"}))
		})
	})

	Describe("polling outcomes", func() {
		submitCard := func() {
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
		}

		It("fails the attempt at the poll ceiling and stops checking", func() {
			backend.statusReplies = always(checkoutDatamodel.StatusPending)
			m = newMachine()
			submitCard()

			Eventually(backend.statusCount).Should(BeNumerically(">=", 1))
			clock.Advance(30 * time.Second)

			Eventually(state).Should(Equal(checkout.Failed{PaymentID: "pay_1", Reason: checkout.ReasonTimedOut}))
			checks := backend.statusCount()
			clock.Advance(time.Minute)
			Consistently(backend.statusCount, 100*time.Millisecond).Should(Equal(checks))
		})

		It("fails the attempt when a status check cannot reach the backend", func() {
			backend.statusReplies = func(int) statusReply {
				return statusReply{err: errors.NewNetworkError("Unable to check payment status", nil)}
			}
			m = newMachine()
			submitCard()

			Eventually(state).Should(Equal(checkout.Failed{PaymentID: "pay_1", Reason: "Unable to check payment status"}))
		})

		It("fails on a failed status and starts over from method selection on retry", func() {
			backend.statusReplies = always(checkoutDatamodel.StatusFailed)
			recorder := &outcomeRecorder{}
			m = newMachine(checkout.WithMetrics(recorder))
			submitCard()

			Eventually(state).Should(Equal(checkout.Failed{PaymentID: "pay_1", Reason: checkout.ReasonPaymentFailed}))
			Eventually(recorder.recorded).Should(Equal([]string{"failed"}))

			Expect(m.Retry()).To(Succeed())
			Expect(state()).To(Equal(checkout.SelectingMethod{Order: order1}))

			Expect(m.SelectMethod(checkoutDatamodel.MethodCard)).To(Succeed())
			Expect(state().(checkout.FillingForm).Fields).To(BeEmpty())

			backend.setStatusReplies(always(checkoutDatamodel.StatusSuccess))
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			Eventually(state).Should(Equal(checkout.Success{PaymentID: "pay_1"}))
			Eventually(recorder.recorded).Should(Equal([]string{"failed", "success"}))
		})
	})

	Describe("invalid actions", func() {
		It("rejects actions that do not apply to the current state", func() {
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(stateName).Should(Equal(checkout.StateSelectingMethod))

			for _, action := range []func() error{m.Submit, m.Back, m.Retry} {
				err := action()
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeInvalidTransition))
			}
			err := m.SetField(checkoutDatamodel.FieldVPA, "asha@okbank")
			Expect(errors.IsType(err, errors.ErrorTypeConflict)).To(BeTrue())
			Expect(stateName()).To(Equal(checkout.StateSelectingMethod))
		})

		It("rejects unknown payment methods", func() {
			m = newMachine()
			Expect(m.Start("order_1")).To(Succeed())
			Eventually(stateName).Should(Equal(checkout.StateSelectingMethod))

			err := m.SelectMethod("paypal")
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue())
			Expect(stateName()).To(Equal(checkout.StateSelectingMethod))
		})
	})

	Describe("teardown", func() {
		It("stops polling and rejects further actions", func() {
			backend.statusReplies = always(checkoutDatamodel.StatusPending)
			m = newMachine()
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			Eventually(backend.statusCount).Should(BeNumerically(">=", 1))

			m.Close()
			Expect(m.Done()).To(BeClosed())
			checks := backend.statusCount()
			clock.Advance(10 * time.Second)
			Consistently(backend.statusCount, 100*time.Millisecond).Should(Equal(checks))

			Expect(m.Retry()).To(MatchError(errors.ErrSessionClosed))
			m.Close()
		})
	})

	Describe("events", func() {
		It("publishes submission and outcome events", func() {
			bus := events.NewEventBus(testLogger())
			var (
				mu   sync.Mutex
				seen []string
			)
			bus.Subscribe(events.AllEvents, func(_ context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, e.EventType())
				return nil
			})

			m = newMachine(checkout.WithEventBus(bus))
			reachForm(checkoutDatamodel.MethodCard)
			Expect(m.SetFields(cardFields)).To(Succeed())
			Expect(m.Submit()).To(Succeed())
			Eventually(state).Should(Equal(checkout.Success{PaymentID: "pay_1"}))

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), seen...)
			}).Should(ConsistOf(events.EventTypePaymentSubmitted, events.EventTypeCheckoutSucceeded))
			bus.Wait()
		})
	})
})
