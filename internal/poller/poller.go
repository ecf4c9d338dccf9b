// Package poller watches one payment until it settles or a deadline passes.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultCeiling  = 30 * time.Second
)

type StatusFetcher interface {
	GetStatus(ctx context.Context, paymentID string) (*checkout.Payment, error)
}

type State int

const (
	StateIdle State = iota
	StatePolling
	StateResolved
	StateTimedOut
	StateErrored
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type UpdateKind int

const (
	// UpdateStatus carries a non-terminal snapshot; more updates follow.
	UpdateStatus UpdateKind = iota
	UpdateResolved
	UpdateTimedOut
	UpdateError
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateStatus:
		return "status"
	case UpdateResolved:
		return "resolved"
	case UpdateTimedOut:
		return "timed_out"
	case UpdateError:
		return "error"
	}
	return "unknown"
}

type Update struct {
	Kind      UpdateKind
	PaymentID string
	Payment   *checkout.Payment
	Err       error
}

// Observer receives updates on the poller goroutine while the poller lock is held.
// It must return quickly and must not call back into the Poller.
type Observer func(Update)

type Config struct {
	Interval time.Duration
	Ceiling  time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Poller is single use: one Start, any number of Stop calls.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	ceiling  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	checks int
	cancel context.CancelFunc
	done   chan struct{}
}

func New(fetcher StatusFetcher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		interval: cfg.Interval,
		ceiling:  cfg.Ceiling,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
}

// Start issues the first check immediately and then one per interval.
func (p *Poller) Start(ctx context.Context, paymentID string, observer Observer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return errors.ErrAlreadyPolling
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StatePolling

	started := p.clock.Now()
	ticker := p.clock.NewTicker(p.interval)
	deadline := p.clock.NewTimer(p.ceiling)

	go p.run(ctx, paymentID, observer, started, ticker, deadline)
	return nil
}

// Stop is idempotent. Once it returns no further check is issued and the observer is not called again.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateIdle:
		p.state = StateStopped
		close(p.done)
	case StatePolling:
		p.state = StateStopped
		p.cancel()
	}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Checks reports how many status checks have been issued.
func (p *Poller) Checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checks
}

// Done is closed when the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context, paymentID string, observer Observer, started time.Time, ticker clockwork.Ticker, deadline clockwork.Timer) {
	defer close(p.done)
	defer ticker.Stop()
	defer deadline.Stop()
	defer p.cancel()

	log := p.logger.With("payment_id", paymentID)
	log.Debug("status polling started", "interval", p.interval, "ceiling", p.ceiling)

	timedOut := func() {
		if p.deliver(StateTimedOut, observer, Update{
			Kind:      UpdateTimedOut,
			PaymentID: paymentID,
			Err:       errors.NewTimedOutError("payment status could not be confirmed in time"),
		}) {
			log.Warn("status polling timed out", "elapsed", p.clock.Since(started))
		}
		// aborts a check still waiting on the backend
		p.cancel()
	}

	// The ceiling is watched apart from the check loop so a slow check cannot delay it.
	go func() {
		select {
		case <-deadline.Chan():
			timedOut()
		case <-ctx.Done():
		}
	}()

	if !p.check(ctx, log, paymentID, observer) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			p.abandon()
			return
		case <-ticker.Chan():
			if p.clock.Since(started) >= p.ceiling {
				timedOut()
				return
			}
			if !p.check(ctx, log, paymentID, observer) {
				return
			}
		}
	}
}

// check runs one status fetch and reports whether polling should continue.
func (p *Poller) check(ctx context.Context, log *slog.Logger, paymentID string, observer Observer) bool {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return false
	}
	p.checks++
	p.mu.Unlock()

	payment, err := p.fetcher.GetStatus(ctx, paymentID)
	if err == nil && payment == nil {
		err = errors.NewNetworkError("Unable to check payment status", nil)
	}
	if err != nil {
		if _, ok := errors.IsAppError(err); !ok {
			err = errors.NewNetworkError("Unable to check payment status", err)
		}
		if p.deliver(StateErrored, observer, Update{Kind: UpdateError, PaymentID: paymentID, Err: err}) {
			log.Warn("status check failed", "error", err)
		}
		return false
	}

	if payment.Status.IsTerminal() {
		if p.deliver(StateResolved, observer, Update{Kind: UpdateResolved, PaymentID: paymentID, Payment: payment}) {
			log.Info("payment resolved", "status", payment.Status)
		}
		return false
	}

	return p.deliver(StatePolling, observer, Update{Kind: UpdateStatus, PaymentID: paymentID, Payment: payment})
}

// deliver hands u to the observer unless the poller left Polling in the meantime.
func (p *Poller) deliver(next State, observer Observer, u Update) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePolling {
		return false
	}
	p.state = next
	if observer != nil {
		observer(u)
	}
	return true
}

func (p *Poller) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePolling {
		p.state = StateStopped
	}
}
