package sandbox

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	checkoutDatamodel "github.com/frahmantamala/checkout/internal/core/datamodel/checkout"
	"github.com/jonboulle/clockwork"
)

var (
	ErrQueueFull     = stderrors.New("settlement queue full")
	ErrSettlerClosed = stderrors.New("settlement pool is shut down")
)

type SettlementJob struct {
	PaymentID string
	Method    checkoutDatamodel.PaymentMethod
}

type Worker struct {
	ID         int
	WorkerPool chan chan SettlementJob
	JobChannel chan SettlementJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan SettlementJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan SettlementJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, SettlementJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("settlement worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker settling payment", "worker_id", w.ID, "payment_id", job.PaymentID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("settlement worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SettlerConfig struct {
	MaxWorkers      int
	JobQueueSize    int
	MinDelay        time.Duration
	MaxDelay        time.Duration
	UPISuccessRate  float64
	CardSuccessRate float64
	Clock           clockwork.Clock
	// Rand returns a value in [0, 1); defaults to math/rand.
	Rand func() float64
}

// Pool settles payments after a random delay, succeeding with the configured
// per-method rate.
type Pool struct {
	repo   RepositoryAPI
	config SettlerConfig
	clock  clockwork.Clock
	rand   func() float64
	logger *slog.Logger

	jobQueue   chan SettlementJob
	workerPool chan chan SettlementJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	mu         sync.Mutex
	closed     bool
	inflight   sync.WaitGroup
}

func NewPool(repo RepositoryAPI, config SettlerConfig, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	if config.JobQueueSize <= 0 {
		config.JobQueueSize = 100
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Rand == nil {
		config.Rand = rand.Float64
	}

	p := &Pool{
		repo:       repo,
		config:     config,
		clock:      config.Clock,
		rand:       config.Rand,
		logger:     logger,
		jobQueue:   make(chan SettlementJob, config.JobQueueSize),
		workerPool: make(chan chan SettlementJob, config.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.config.MaxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.ctx, &p.wg, p.settle)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("settlement worker pool started",
			"max_workers", p.config.MaxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					p.inflight.Done()
					return
				}
			case <-p.ctx.Done():
				p.inflight.Done()
				return
			}
		case <-p.ctx.Done():
			p.logger.Info("settlement dispatcher shutting down")
			return
		}
	}
}

// Enqueue never blocks; a full queue is reported as ErrQueueFull.
func (p *Pool) Enqueue(job SettlementJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSettlerClosed
	}

	p.inflight.Add(1)
	select {
	case p.jobQueue <- job:
		p.logger.Debug("settlement job queued", "payment_id", job.PaymentID, "queue_length", len(p.jobQueue))
		return nil
	default:
		p.inflight.Done()
		p.logger.Warn("settlement queue full", "payment_id", job.PaymentID, "queue_capacity", cap(p.jobQueue))
		return ErrQueueFull
	}
}

// Wait blocks until every queued job has been settled or dropped by Shutdown.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Shutdown stops the workers; jobs still waiting in the queue stay processing.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("shutting down settlement pool")
	p.cancel()
	p.wg.Wait()
drain:
	for {
		select {
		case <-p.jobQueue:
			p.inflight.Done()
		default:
			break drain
		}
	}
	p.logger.Info("settlement pool shutdown complete")
}

func (p *Pool) settle(ctx context.Context, job SettlementJob) {
	defer p.inflight.Done()

	if delay := p.delay(); delay > 0 {
		select {
		case <-p.clock.After(delay):
		case <-ctx.Done():
			p.logger.Debug("settlement abandoned on shutdown", "payment_id", job.PaymentID)
			return
		}
	}

	outcome := Outcome{
		Status:    checkoutDatamodel.StatusSuccess.String(),
		SettledAt: p.clock.Now().UTC(),
	}
	if p.rand() >= p.successRate(job.Method) {
		outcome.Status = checkoutDatamodel.StatusFailed.String()
		outcome.Code = "PAYMENT_FAILED"
		outcome.Description = "Payment was declined by the bank"
	}

	if err := p.repo.SettlePayment(context.WithoutCancel(ctx), job.PaymentID, outcome); err != nil {
		p.logger.Error("failed to settle payment", "payment_id", job.PaymentID, "error", err)
		return
	}
	p.logger.Info("payment settled", "payment_id", job.PaymentID, "status", outcome.Status)
}

func (p *Pool) delay() time.Duration {
	spread := p.config.MaxDelay - p.config.MinDelay
	if spread <= 0 {
		return p.config.MinDelay
	}
	return p.config.MinDelay + time.Duration(p.rand()*float64(spread))
}

func (p *Pool) successRate(method checkoutDatamodel.PaymentMethod) float64 {
	if method == checkoutDatamodel.MethodCard {
		return p.config.CardSuccessRate
	}
	return p.config.UPISuccessRate
}
