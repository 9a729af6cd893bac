package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
)

// State of the supervisor.
type State int

const (
	// StateValid means the held credential is usable and not close to expiry.
	StateValid State = iota
	// StateNearExpiry means the credential is usable but a proactive refresh is due.
	StateNearExpiry
	// StateRefreshing means a refresh is in flight.
	StateRefreshing
	// StateDegraded means consecutive refreshes failed and the breaker is open.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateNearExpiry:
		return "near_expiry"
	case StateRefreshing:
		return "refreshing"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Options configures the supervisor.
type Options struct {
	RefreshThreshold time.Duration // proactive refresh when remaining validity drops below this
	FetchTimeout     time.Duration // bound on a blocking credential wait
	BreakerFailures  int           // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration // how long the breaker stays open
}

// Supervisor hands out a valid token to callers and keeps it fresh in the
// background. A single refresh is in flight at any time; concurrent callers
// share its result.
type Supervisor struct {
	sources []Source
	opts    Options
	logger  *zap.Logger

	refreshTotal *prometheus.CounterVec // labels: source, status
	stateGauge   prometheus.Gauge

	now func() time.Time

	mu            sync.Mutex
	current       domain.Credential
	state         State
	failures      int
	degradedUntil time.Time
	refreshing    bool
	refreshDone   chan struct{}
}

// NewSupervisor creates a credential supervisor. Sources are tried in the
// given priority order on every refresh.
func NewSupervisor(
	sources []Source,
	opts Options,
	refreshTotal *prometheus.CounterVec,
	stateGauge prometheus.Gauge,
	logger *zap.Logger,
) *Supervisor {
	return &Supervisor{
		sources:      sources,
		opts:         opts,
		logger:       logger,
		refreshTotal: refreshTotal,
		stateGauge:   stateGauge,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Supervisor) lock()   { s.mu.Lock() }
func (s *Supervisor) unlock() { s.mu.Unlock() }

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.lock()
	defer s.unlock()
	return s.state
}

// Token returns a currently valid token. A near-expiry credential is still
// served while a background refresh runs; with no valid credential the call
// blocks until a refresh completes, the context is cancelled, or the fetch
// timeout elapses.
func (s *Supervisor) Token(ctx context.Context) (string, error) {
	s.lock()
	now := s.now()

	if s.state == StateDegraded && now.Before(s.degradedUntil) {
		s.unlock()
		return "", fmt.Errorf("breaker open until %s: %w", s.degradedUntil.Format(time.RFC3339), domain.ErrCircuitOpen)
	}

	if s.current.Valid(now) {
		if s.current.Remaining(now) <= s.opts.RefreshThreshold {
			s.startRefreshLocked()
		}
		token := s.current.Token
		s.unlock()
		return token, nil
	}

	done := s.startRefreshLocked()
	s.unlock()

	timer := time.NewTimer(s.opts.FetchTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for credential: %w", ctx.Err())
	case <-timer.C:
		return "", fmt.Errorf("credential fetch timed out after %s: %w", s.opts.FetchTimeout, domain.ErrCredentialUnavailable)
	}

	s.lock()
	defer s.unlock()
	if s.current.Valid(s.now()) {
		return s.current.Token, nil
	}
	if s.state == StateDegraded {
		return "", fmt.Errorf("refresh failed, breaker open: %w", domain.ErrCircuitOpen)
	}
	return "", domain.ErrCredentialUnavailable
}

// startRefreshLocked launches a background refresh unless one is already in
// flight. Returns the channel closed when the refresh finishes.
func (s *Supervisor) startRefreshLocked() chan struct{} {
	if s.refreshing {
		return s.refreshDone
	}
	s.refreshing = true
	s.refreshDone = make(chan struct{})
	if s.current.Valid(s.now()) {
		s.setStateLocked(StateNearExpiry)
	} else {
		s.setStateLocked(StateRefreshing)
	}
	go s.refresh(s.refreshDone)
	return s.refreshDone
}

func (s *Supervisor) refresh(done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	var fetched domain.Credential
	ok := false
	for _, src := range s.sources {
		cred, err := src.Fetch(ctx)
		if err != nil {
			s.incRefresh(src.Name(), "failure")
			s.logger.Debug("Credential source failed",
				zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if !cred.Valid(s.now()) {
			s.incRefresh(src.Name(), "expired")
			continue
		}
		s.incRefresh(src.Name(), "success")
		fetched = cred
		ok = true
		break
	}

	s.lock()
	defer s.unlock()
	if ok {
		s.current = fetched
		s.failures = 0
		s.setStateLocked(StateValid)
		s.logger.Info("Credential refreshed",
			zap.String("source", fetched.Source),
			zap.Time("expires_at", fetched.ExpiresAt))
	} else {
		s.failures++
		if s.failures >= s.opts.BreakerFailures {
			s.degradedUntil = s.now().Add(s.opts.BreakerCooldown)
			s.setStateLocked(StateDegraded)
			s.logger.Error("Credential supervisor degraded",
				zap.Int("consecutive_failures", s.failures),
				zap.Time("until", s.degradedUntil))
		} else if s.current.Valid(s.now()) {
			s.setStateLocked(StateNearExpiry)
		} else {
			s.setStateLocked(StateRefreshing)
			s.logger.Warn("Credential refresh failed", zap.Int("consecutive_failures", s.failures))
		}
	}
	s.refreshing = false
	close(done)
}

func (s *Supervisor) setStateLocked(st State) {
	s.state = st
	if s.stateGauge != nil {
		s.stateGauge.Set(float64(st))
	}
}

func (s *Supervisor) incRefresh(source, status string) {
	if s.refreshTotal != nil {
		s.refreshTotal.WithLabelValues(source, status).Inc()
	}
}
