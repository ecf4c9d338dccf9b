// Package checkout runs hosted checkout sessions: one state machine per payer,
// from order lookup through method selection, submission and status polling.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/frahmantamala/checkout/internal/core/events"
	"github.com/frahmantamala/checkout/internal/form"
	"github.com/frahmantamala/checkout/internal/gateway"
	"github.com/frahmantamala/checkout/internal/poller"
	"github.com/jonboulle/clockwork"
)

const (
	ReasonPaymentFailed = "Payment could not be processed. Please try again."
	ReasonTimedOut      = "payment status could not be confirmed in time"
)

type MetricsRecorder interface {
	ObserveTransition(from, to string)
	ObserveOutcome(outcome string, elapsed time.Duration)
	ObservePollUpdate(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string)     {}
func (noopMetrics) ObserveOutcome(string, time.Duration) {}
func (noopMetrics) ObservePollUpdate(string)             {}

// TransitionHook runs on the machine's event loop after every transition.
// It must not call back into the Machine.
type TransitionHook func(from, to State)

type Option func(*Machine)

func WithID(id string) Option {
	return func(m *Machine) { m.id = id }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Machine) { m.clock = clock }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Machine) { m.pollInterval = d }
}

func WithPollCeiling(d time.Duration) Option {
	return func(m *Machine) { m.pollCeiling = d }
}

func WithMetrics(recorder MetricsRecorder) Option {
	return func(m *Machine) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

func WithEventBus(bus *events.EventBus) Option {
	return func(m *Machine) { m.bus = bus }
}

func WithTransitionHook(hook TransitionHook) Option {
	return func(m *Machine) { m.hook = hook }
}

// Machine serialises user actions and gateway results through a single event loop.
// Results are tagged with the attempt that started them and dropped once that attempt is superseded.
type Machine struct {
	id           string
	orders       gateway.OrderGateway
	payments     gateway.PaymentGateway
	logger       *slog.Logger
	clock        clockwork.Clock
	pollInterval time.Duration
	pollCeiling  time.Duration
	metrics      MetricsRecorder
	bus          *events.EventBus
	hook         TransitionHook

	mailbox   *mailbox
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.RWMutex
	snapshot   State
	lastActive time.Time

	// Owned by the event loop.
	state       State
	started     bool
	orderID     string
	order       *checkoutDatamodel.Order
	form        *form.Model
	attempt     uint64
	poller      *poller.Poller
	paymentID   string
	submittedAt time.Time
}

type message func()

func NewMachine(orders gateway.OrderGateway, payments gateway.PaymentGateway, opts ...Option) *Machine {
	m := &Machine{
		orders:       orders,
		payments:     payments,
		pollInterval: poller.DefaultInterval,
		pollCeiling:  poller.DefaultCeiling,
		metrics:      noopMetrics{},
		mailbox:      newMailbox(),
		done:         make(chan struct{}),
		form:         form.New(),
		state:        Loading{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.id != "" {
		m.logger = m.logger.With("session_id", m.id)
	}

	m.snapshot = m.state
	m.lastActive = m.clock.Now()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	go m.run()
	return m
}

func (m *Machine) ID() string {
	return m.id
}

// State returns the most recently published state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// LastActive is the time of the latest user action.
func (m *Machine) LastActive() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastActive
}

// Done is closed once the machine has been torn down.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Start loads orderID. An empty id goes straight to OrderNotFound without contacting the backend.
func (m *Machine) Start(orderID string) error {
	return m.do(func() error {
		if m.started {
			return m.invalid("start checkout")
		}
		m.started = true
		m.orderID = strings.TrimSpace(orderID)
		if m.orderID == "" {
			m.transition(OrderNotFound{})
			return nil
		}
		m.load()
		return nil
	})
}

func (m *Machine) SelectMethod(method checkoutDatamodel.PaymentMethod) error {
	return m.do(func() error {
		if _, ok := m.state.(SelectingMethod); !ok {
			return m.invalid("select a payment method")
		}
		parsed, ok := checkoutDatamodel.ParseMethod(string(method))
		if !ok {
			return errors.NewValidationFieldError("method", fmt.Sprintf("unsupported payment method %q", method), errors.ErrCodeInvalidMethod)
		}
		m.form.Select(parsed)
		m.transition(m.fillingForm(""))
		return nil
	})
}

func (m *Machine) SetField(name, value string) error {
	return m.SetFields(map[string]string{name: value})
}

// SetFields applies all values or none; names outside the active method's form are rejected.
// The form's message is kept until every required field is filled in.
func (m *Machine) SetFields(values map[string]string) error {
	return m.do(func() error {
		current, ok := m.state.(FillingForm)
		if !ok {
			return m.invalid("edit payment details")
		}
		allowed := checkoutDatamodel.RequiredFields(current.Method)
		for name := range values {
			if !contains(allowed, name) {
				return errors.NewValidationFieldError(name, fmt.Sprintf("%s is not a %s field", name, current.Method), errors.ErrCodeValidationFailed)
			}
		}
		for name, value := range values {
			m.form.SetField(name, value)
		}
		message := current.Message
		if m.form.IsComplete() {
			message = ""
		}
		m.transition(m.fillingForm(message))
		return nil
	})
}

// Back returns to method selection, discarding form values and any submission still in flight.
func (m *Machine) Back() error {
	return m.do(func() error {
		switch m.state.(type) {
		case FillingForm, Submitting:
		default:
			return m.invalid("change payment method")
		}
		m.nextAttempt()
		m.form.Reset()
		m.transition(SelectingMethod{Order: *m.order})
		return nil
	})
}

// Submit sends the form to the backend. It fails without a network call when the form is incomplete;
// otherwise the outcome is observed through State.
func (m *Machine) Submit() error {
	return m.do(func() error {
		current, ok := m.state.(FillingForm)
		if !ok {
			return m.invalid("submit payment")
		}

		req, err := m.form.ToRequest(m.order.ID)
		if err != nil {
			m.transition(m.fillingForm(errors.UserMessage(err)))
			return err
		}

		attempt := m.nextAttempt()
		m.submittedAt = m.clock.Now()
		m.transition(Submitting{Order: *m.order, Method: current.Method})

		go func() {
			payment, err := m.payments.Submit(m.ctx, req)
			m.post(func() { m.submitted(attempt, payment, err) })
		}()
		return nil
	})
}

// Retry starts over from method selection after Failed, or reloads the order after Error.
func (m *Machine) Retry() error {
	return m.do(func() error {
		switch m.state.(type) {
		case Failed:
			m.nextAttempt()
			m.stopPoller()
			m.paymentID = ""
			m.form.Reset()
			m.transition(SelectingMethod{Order: *m.order})
		case Error:
			m.load()
		default:
			return m.invalid("retry")
		}
		return nil
	})
}

// Close stops polling, cancels calls in flight and rejects further actions. It is idempotent.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.mailbox.close()
		m.cancel()
		<-m.done
		m.logger.Debug("checkout session closed", "state", m.State().Name())
	})
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.stopPoller()
			return
		case <-m.mailbox.ready:
			for _, msg := range m.mailbox.drain() {
				if m.ctx.Err() != nil {
					break
				}
				msg()
			}
		}
	}
}

func (m *Machine) post(msg message) {
	if !m.mailbox.push(msg) {
		m.logger.Debug("dropping result for closed session")
	}
}

func (m *Machine) do(fn func() error) error {
	reply := make(chan error, 1)
	if !m.mailbox.push(func() { reply <- fn() }) {
		return errors.ErrSessionClosed
	}

	m.mu.Lock()
	m.lastActive = m.clock.Now()
	m.mu.Unlock()

	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return errors.ErrSessionClosed
		}
	}
}

func (m *Machine) load() {
	attempt := m.nextAttempt()
	orderID := m.orderID
	m.transition(Loading{OrderID: orderID})

	go func() {
		order, err := m.orders.FetchOrder(m.ctx, orderID)
		m.post(func() { m.orderLoaded(attempt, order, err) })
	}()
}

func (m *Machine) orderLoaded(attempt uint64, order *checkoutDatamodel.Order, err error) {
	if !m.current(attempt, StateLoading) {
		return
	}
	if err == nil && order == nil {
		err = errors.NewNetworkError("Unable to load order. Please try again.", nil)
	}
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			m.logger.Info("order not found", "order_id", m.orderID)
			m.transition(OrderNotFound{OrderID: m.orderID})
			return
		}
		m.logger.Warn("order fetch failed", "order_id", m.orderID, "error", err)
		m.transition(Error{Message: errors.UserMessage(err)})
		return
	}

	m.order = order
	m.transition(SelectingMethod{Order: *order})
}

func (m *Machine) submitted(attempt uint64, payment *checkoutDatamodel.Payment, err error) {
	if !m.current(attempt, StateSubmitting) {
		return
	}
	if err == nil && (payment == nil || payment.ID == "") {
		err = errors.NewRejectedError("", "")
	}
	if err != nil {
		m.logger.Info("payment submission failed", "order_id", m.order.ID, "error", err)
		m.transition(m.fillingForm(errors.UserMessage(err)))
		return
	}

	m.paymentID = payment.ID
	m.transition(AwaitingOutcome{Order: *m.order, PaymentID: payment.ID, Status: payment.Status})
	m.publish(events.NewPaymentSubmittedEvent(m.id, m.order.ID, payment.ID, m.form.Method().String(), m.order.Amount))

	if payment.Status.IsTerminal() {
		m.resolve(payment)
		return
	}
	m.startPoller(attempt, payment.ID)
}

func (m *Machine) startPoller(attempt uint64, paymentID string) {
	m.stopPoller()
	p := poller.New(m.payments, poller.Config{
		Interval: m.pollInterval,
		Ceiling:  m.pollCeiling,
		Clock:    m.clock,
		Logger:   m.logger,
	})
	observer := func(u poller.Update) {
		m.post(func() { m.polled(attempt, u) })
	}
	if err := p.Start(m.ctx, paymentID, observer); err != nil {
		m.fail(errors.UserMessage(err))
		return
	}
	m.poller = p
}

func (m *Machine) polled(attempt uint64, u poller.Update) {
	if !m.current(attempt, StateAwaitingOutcome) || u.PaymentID != m.paymentID {
		return
	}
	m.metrics.ObservePollUpdate(u.Kind.String())

	switch u.Kind {
	case poller.UpdateStatus:
		m.transition(AwaitingOutcome{Order: *m.order, PaymentID: m.paymentID, Status: u.Payment.Status})
	case poller.UpdateResolved:
		m.resolve(u.Payment)
	case poller.UpdateTimedOut:
		m.fail(ReasonTimedOut)
	case poller.UpdateError:
		m.fail(errors.UserMessage(u.Err))
	}
}

func (m *Machine) resolve(payment *checkoutDatamodel.Payment) {
	if payment.Status != checkoutDatamodel.StatusSuccess {
		m.fail(ReasonPaymentFailed)
		return
	}
	m.transition(Success{PaymentID: payment.ID})
	m.metrics.ObserveOutcome(string(StateSuccess), m.clock.Since(m.submittedAt))
	m.publish(events.NewCheckoutSucceededEvent(m.id, m.order.ID, payment.ID))
}

func (m *Machine) fail(reason string) {
	m.transition(Failed{PaymentID: m.paymentID, Reason: reason})
	m.metrics.ObserveOutcome(string(StateFailed), m.clock.Since(m.submittedAt))
	m.publish(events.NewCheckoutFailedEvent(m.id, m.order.ID, m.paymentID, reason))
}

// transition is the only writer of m.state. Leaving AwaitingOutcome stops the poller before the new state is visible.
func (m *Machine) transition(next State) {
	prev := m.state
	if _, awaiting := prev.(AwaitingOutcome); awaiting {
		if _, still := next.(AwaitingOutcome); !still {
			m.stopPoller()
		}
	}

	m.state = next
	m.mu.Lock()
	m.snapshot = next
	m.mu.Unlock()

	if prev.Name() != next.Name() {
		m.metrics.ObserveTransition(string(prev.Name()), string(next.Name()))
		m.logger.Info("checkout state changed", "from", prev.Name(), "to", next.Name())
	}
	if m.hook != nil {
		m.hook(prev, next)
	}
}

func (m *Machine) current(attempt uint64, name StateName) bool {
	if attempt == m.attempt && m.state.Name() == name {
		return true
	}
	m.logger.Debug("discarding stale result", "attempt", attempt, "current_attempt", m.attempt, "state", m.state.Name())
	return false
}

func (m *Machine) nextAttempt() uint64 {
	m.attempt++
	return m.attempt
}

func (m *Machine) stopPoller() {
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
}

func (m *Machine) fillingForm(message string) FillingForm {
	return FillingForm{
		Order:   *m.order,
		Method:  m.form.Method(),
		Fields:  m.form.Fields(),
		Missing: m.form.Missing(),
		Message: message,
	}
}

func (m *Machine) publish(event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(m.ctx, event); err != nil {
		m.logger.Warn("failed to publish checkout event", "event_type", event.EventType(), "error", err)
	}
}

func (m *Machine) invalid(action string) error {
	return errors.NewConflictError(fmt.Sprintf("Cannot %s while checkout is %s", action, strings.ReplaceAll(string(m.state.Name()), "_", " ")), errors.ErrCodeInvalidTransition)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
