package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	errors "github.com/frahmantamala/checkout/internal"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MachineFactory builds the machine for a new session id.
type MachineFactory func(id string) *Machine

type SessionGauge interface {
	SetActiveSessions(n int)
}

type StoreConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxSessions   int
	Clock         clockwork.Clock
	Gauge         SessionGauge
}

// SessionStore keeps live checkout sessions in memory only; a restart drops them.
type SessionStore struct {
	newMachine    MachineFactory
	ttl           time.Duration
	sweepInterval time.Duration
	maxSessions   int
	clock         clockwork.Clock
	gauge         SessionGauge
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Machine
}

func NewSessionStore(factory MachineFactory, config StoreConfig, logger *slog.Logger) *SessionStore {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		newMachine:    factory,
		ttl:           config.TTL,
		sweepInterval: config.SweepInterval,
		maxSessions:   config.MaxSessions,
		clock:         config.Clock,
		gauge:         config.Gauge,
		logger:        logger,
		sessions:      make(map[string]*Machine),
	}
}

// Create opens a session for orderID and starts loading the order.
func (s *SessionStore) Create(orderID string) (*Machine, error) {
	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		s.logger.Warn("session limit reached", "max_sessions", s.maxSessions)
		return nil, errors.ErrTooManySessions
	}
	id := uuid.NewString()
	m := s.newMachine(id)
	s.sessions[id] = m
	count := len(s.sessions)
	s.mu.Unlock()

	s.report(count)

	if err := m.Start(orderID); err != nil {
		s.remove(id)
		m.Close()
		return nil, err
	}

	s.logger.Info("checkout session created", "session_id", id, "order_id", orderID)
	return m, nil
}

func (s *SessionStore) Get(id string) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return m, nil
}

// Close tears the session down and forgets it.
func (s *SessionStore) Close(id string) error {
	m, ok := s.remove(id)
	if !ok {
		return errors.ErrSessionNotFound
	}
	m.Close()
	s.logger.Info("checkout session closed", "session_id", id)
	return nil
}

func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Machine)
	s.mu.Unlock()

	for _, m := range sessions {
		m.Close()
	}
	s.report(0)
	s.logger.Info("all checkout sessions closed", "count", len(sessions))
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many were closed.
func (s *SessionStore) Sweep() int {
	cutoff := s.clock.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Machine
	for id, m := range s.sessions {
		if m.LastActive().Before(cutoff) {
			expired = append(expired, m)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, m := range expired {
		m.Close()
	}
	if len(expired) > 0 {
		s.report(count)
		s.logger.Info("expired checkout sessions closed", "count", len(expired), "remaining", count)
	}
	return len(expired)
}

// RunJanitor sweeps on every SweepInterval until ctx is done.
func (s *SessionStore) RunJanitor(ctx context.Context) {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

func (s *SessionStore) remove(id string) (*Machine, bool) {
	s.mu.Lock()
	m, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	if ok {
		s.report(count)
	}
	return m, ok
}

func (s *SessionStore) report(n int) {
	if s.gauge != nil {
		s.gauge.SetActiveSessions(n)
	}
}
