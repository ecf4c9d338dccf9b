package checkout_test

import (
	"context"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/checkout"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type gaugeRecorder struct {
	values chan int
}

func (g *gaugeRecorder) SetActiveSessions(n int) {
	select {
	case g.values <- n:
	default:
	}
}

var _ = Describe("SessionStore", func() {
	var (
		backend *fakeBackend
		clock   *clockwork.FakeClock
		store   *checkout.SessionStore
		gauge   *gaugeRecorder
	)

	BeforeEach(func() {
		backend = newFakeBackend()
		clock = clockwork.NewFakeClock()
		gauge = &gaugeRecorder{values: make(chan int, 16)}
		factory := func(id string) *checkout.Machine {
			return checkout.NewMachine(backend, backend,
				checkout.WithID(id),
				checkout.WithLogger(testLogger()),
				checkout.WithClock(clock),
			)
		}
		store = checkout.NewSessionStore(factory, checkout.StoreConfig{
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   2,
			Clock:         clock,
			Gauge:         gauge,
		}, testLogger())
	})

	AfterEach(func() {
		store.CloseAll()
	})

	It("creates sessions that load their order", func() {
		m, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.ID()).NotTo(BeEmpty())
		Eventually(func() checkout.StateName { return m.State().Name() }).Should(Equal(checkout.StateSelectingMethod))

		got, err := store.Get(m.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(m))
		Expect(gauge.values).To(Receive(Equal(1)))
	})

	It("returns SESSION_NOT_FOUND for unknown ids", func() {
		_, err := store.Get("nope")
		Expect(err).To(MatchError(errors.ErrSessionNotFound))
		Expect(store.Close("nope")).To(MatchError(errors.ErrSessionNotFound))
	})

	It("enforces the session limit", func() {
		_, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())

		_, err = store.Create("order_1")
		Expect(err).To(MatchError(errors.ErrTooManySessions))
		Expect(store.Len()).To(Equal(2))
	})

	It("closes a session on request", func() {
		m, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Close(m.ID())).To(Succeed())
		Expect(m.Done()).To(BeClosed())
		_, err = store.Get(m.ID())
		Expect(err).To(MatchError(errors.ErrSessionNotFound))
	})

	It("sweeps idle sessions after the TTL", func() {
		idle, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(8 * time.Minute)
		active, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(3 * time.Minute)
		Expect(store.Sweep()).To(Equal(1))
		Expect(idle.Done()).To(BeClosed())

		_, err = store.Get(active.ID())
		Expect(err).NotTo(HaveOccurred())
	})

	It("runs the janitor on every sweep interval", func() {
		idle, err := store.Create("order_1")
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			store.RunJanitor(ctx)
		}()

		Expect(clock.BlockUntilContext(ctx, 1)).To(Succeed())
		clock.Advance(11 * time.Minute)
		Eventually(idle.Done()).Should(BeClosed())

		cancel()
		Eventually(done).Should(BeClosed())
	})
})
