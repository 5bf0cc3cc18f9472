package manager

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/queue"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// work acquires with ctx and processes with workCtx, so shutdown stops new
// acquisitions while in-flight orders keep running until the grace expires.
func (m *Manager) work(ctx, workCtx context.Context, id int) {
	logger := m.logger.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		order, err := m.acquire(ctx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
				return
			case errors.Is(err, queue.ErrEmpty):
				m.waitForWork(ctx)
			case errors.Is(err, context.DeadlineExceeded):
			default:
				logger.Error("acquire failed", zap.Error(err))
			}
			continue
		}
		m.process(workCtx, logger, order)
	}
}

func (m *Manager) acquire(ctx context.Context) (*visit.Order, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()
	return m.queue.Acquire(actx)
}

// waitForWork blocks until the queue changes, the acquire timeout passes or
// ctx ends.
func (m *Manager) waitForWork(ctx context.Context) {
	changed := m.queue.Changed()
	if m.queue.OrderCount() > 0 {
		return
	}
	timer := time.NewTimer(m.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-changed:
	case <-timer.C:
	}
}

func (m *Manager) process(ctx context.Context, logger *zap.Logger, order *visit.Order) {
	ctx, span := otel.Tracer("github.com/JakeFAU/visit-scheduler/internal/manager").Start(ctx, "visit",
		trace.WithAttributes(
			attribute.String("visit.id", order.ID),
			attribute.String("visit.url", order.URL.String()),
			attribute.String("visit.type", string(order.Type)),
		))
	defer span.End()

	logger.Debug("processing order", zap.String("id", order.ID), zap.String("url", order.URL.String()))
	if err := m.pipeline.Process(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("pipeline failed",
			zap.String("id", order.ID),
			zap.String("url", order.URL.String()),
			zap.Error(err),
		)
	}
	revisit := order.Revisit
	order.Revisit = nil
	m.queue.Release(order, revisit)
}
