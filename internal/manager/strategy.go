package manager

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PollConfig governs when the manager refills the queue.
type PollConfig struct {
	// MinInterval is the shortest time between two polls and the base of the
	// failure backoff. Zero disables the rate limit and backs off from
	// CheckInterval instead.
	MinInterval time.Duration
	// MaxInterval forces a poll when this much time has passed, and caps the
	// failure backoff.
	MaxInterval time.Duration
	// LowWatermarkRatio triggers a poll once the queue holds fewer orders
	// than this fraction of the last poll's result.
	LowWatermarkRatio float64
	// HighWatermark is the queue size a poll tries to reach.
	HighWatermark int
	// CheckInterval is how often the strategy is consulted.
	CheckInterval time.Duration
}

// PollStatus is the diagnostic view of a PollStrategy.
type PollStatus struct {
	LastPoll  time.Time `json:"last_poll"`
	LastCount int       `json:"last_count"`
	Failures  int       `json:"failures"`
	RetryAt   time.Time `json:"retry_at"`
}

// PollStrategy decides when to poll and how much to ask for.
type PollStrategy struct {
	mu        sync.Mutex
	cfg       PollConfig
	limiter   *rate.Limiter
	polled    bool
	lastPoll  time.Time
	lastCount int
	failures  int
	retryAt   time.Time
}

// NewPollStrategy builds a strategy for cfg.
func NewPollStrategy(cfg PollConfig) *PollStrategy {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &PollStrategy{cfg: cfg, limiter: rate.NewLimiter(limit, 1)}
}

// ShouldPoll reports whether to poll at now with queued orders waiting. A
// true result consumes the minimum-interval allowance.
func (s *PollStrategy) ShouldPoll(now time.Time, queued int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queued >= s.cfg.HighWatermark || now.Before(s.retryAt) {
		return false
	}
	due := !s.polled ||
		float64(queued) < s.cfg.LowWatermarkRatio*float64(s.lastCount) ||
		now.Sub(s.lastPoll) >= s.cfg.MaxInterval
	if !due {
		return false
	}
	return s.limiter.AllowN(now, 1)
}

// Want returns how many orders to request with queued orders waiting.
func (s *PollStrategy) Want(queued int) int {
	return max(s.cfg.HighWatermark-queued, 0)
}

// Success records a poll at now that returned count orders.
func (s *PollStrategy) Success(now time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = true
	s.lastPoll = now
	s.lastCount = count
	s.failures = 0
	s.retryAt = time.Time{}
}

// Failure records a failed poll at now and returns the backoff before the
// next attempt.
func (s *PollStrategy) Failure(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	backoff := s.backoff(s.failures)
	s.retryAt = now.Add(backoff)
	return backoff
}

// backoff doubles MinInterval per consecutive failure, capped at MaxInterval.
// Without a min interval CheckInterval is the base.
func (s *PollStrategy) backoff(failures int) time.Duration {
	base := s.cfg.MinInterval
	if base <= 0 {
		base = s.cfg.CheckInterval
	}
	delay := float64(base) * math.Pow(2, float64(failures))
	if delay > float64(s.cfg.MaxInterval) {
		delay = float64(s.cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Status returns a snapshot for diagnostics.
func (s *PollStrategy) Status() PollStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PollStatus{LastPoll: s.lastPoll, LastCount: s.lastCount, Failures: s.failures, RetryAt: s.retryAt}
}
