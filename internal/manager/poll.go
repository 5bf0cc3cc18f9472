package manager

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/metrics"
	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

func (m *Manager) pollLoop(ctx context.Context) {
	if m.poller == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.Poll.CheckInterval)
	defer ticker.Stop()
	for {
		m.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce consults the strategy and, when due, moves a batch from the
// poller into the queue. It reports whether a poll was attempted.
func (m *Manager) pollOnce(ctx context.Context) bool {
	now := m.clock.Now()
	queued := m.queue.OrderCount()
	if !m.strategy.ShouldPoll(now, queued) {
		return false
	}
	want := m.strategy.Want(queued)
	orders, err := m.poller.Poll(ctx, want)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		backoff := m.strategy.Failure(now)
		metrics.ObservePoll(metrics.PollFailure, 0)
		m.logger.Warn("work poll failed", zap.Error(err), zap.Duration("backoff", backoff))
		return true
	}

	added := len(orders)
	if err := m.queue.AddAll(orders); err != nil {
		added = m.addEach(orders, err)
	}
	m.strategy.Success(now, len(orders))
	metrics.ObservePoll(metrics.PollSuccess, len(orders))
	m.logger.Debug("work polled",
		zap.Int("requested", want),
		zap.Int("received", len(orders)),
		zap.Int("added", added),
	)
	return true
}

// addEach falls back to one add per order so a single bad order does not
// drop the whole batch.
func (m *Manager) addEach(orders []*visit.Order, batchErr error) int {
	if errors.Is(batchErr, queue.ErrClosed) {
		return 0
	}
	added := 0
	for _, order := range orders {
		if err := m.queue.Add(order); err != nil {
			m.logger.Warn("dropping polled order", zap.Error(err))
			continue
		}
		added++
	}
	return added
}
