// Package manager runs the visit scheduler: it keeps the queue filled from a
// work poller and drives a pool of workers through the processing pipeline.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/clock/system"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// ErrShutdownForced is returned by Run when in-flight orders did not finish
// within the shutdown grace period.
var ErrShutdownForced = errors.New("shutdown grace period exceeded")

// Config controls the manager.
type Config struct {
	Workers        int
	AcquireTimeout time.Duration
	ShutdownGrace  time.Duration
	Poll           PollConfig
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return errors.New("workers must be at least 1")
	case c.AcquireTimeout <= 0:
		return errors.New("acquire timeout must be positive")
	case c.ShutdownGrace < 0:
		return errors.New("shutdown grace must not be negative")
	case c.Poll.CheckInterval <= 0:
		return errors.New("poll check interval must be positive")
	case c.Poll.MinInterval < 0:
		return errors.New("poll min interval must not be negative")
	case c.Poll.MaxInterval < c.Poll.MinInterval:
		return errors.New("poll max interval must be at least the min interval")
	case c.Poll.LowWatermarkRatio < 0 || c.Poll.LowWatermarkRatio > 1:
		return errors.New("poll low watermark ratio must be within [0, 1]")
	case c.Poll.HighWatermark < 1:
		return errors.New("poll high watermark must be at least 1")
	}
	return nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for poll decisions.
func WithClock(c visit.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("manager")
		}
	}
}

// Manager coordinates polling and workers around one VisitQueue.
type Manager struct {
	queue    *queue.VisitQueue
	poller   visit.WorkPoller
	pipeline visit.Pipeline
	cfg      Config
	strategy *PollStrategy
	clock    visit.Clock
	logger   *zap.Logger
	running  atomic.Bool
}

// New builds a Manager. poller may be nil when the queue is filled by other
// means.
func New(q *queue.VisitQueue, poller visit.WorkPoller, pipeline visit.Pipeline, cfg Config, opts ...Option) (*Manager, error) {
	if q == nil || pipeline == nil {
		return nil, errors.New("manager needs a queue and a pipeline")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("manager config: %w", err)
	}
	m := &Manager{
		queue:    q,
		poller:   poller,
		pipeline: pipeline,
		cfg:      cfg,
		strategy: NewPollStrategy(cfg.Poll),
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Running reports whether Run is active and not shutting down.
func (m *Manager) Running() bool { return m.running.Load() }

// PollStatus returns the poll strategy state.
func (m *Manager) PollStatus() PollStatus { return m.strategy.Status() }

// Run polls and processes until ctx ends, then stops acquiring, closes the
// queue and waits up to the shutdown grace for in-flight orders. When the
// grace expires their contexts are canceled and ErrShutdownForced returned.
func (m *Manager) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var workers sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			m.work(ctx, workCtx, id)
		}(i)
	}
	polling := make(chan struct{})
	go func() {
		defer close(polling)
		m.pollLoop(ctx)
	}()

	m.running.Store(true)
	m.logger.Info("manager started", zap.Int("workers", m.cfg.Workers))
	<-ctx.Done()
	m.running.Store(false)

	m.logger.Info("manager stopping", zap.Int("in_flight", m.queue.AcquiredCount()))
	m.queue.Close()
	<-polling

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	grace := time.NewTimer(m.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
		m.logger.Info("manager stopped")
		return nil
	case <-grace.C:
		m.logger.Warn("shutdown grace expired, canceling in-flight orders",
			zap.Int("in_flight", m.queue.AcquiredCount()))
		cancelWork()
		<-done
		return ErrShutdownForced
	}
}
