package redirect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/metrics"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Filter is the pipeline stage that resolves redirect responses and
// attaches the next hop as the order's revisit.
type Filter struct {
	maxPath int
	ids     visit.IDGenerator
	logger  *zap.Logger
}

// NewFilter creates a redirect Filter allowing maxPath orders per chain.
func NewFilter(maxPath int, ids visit.IDGenerator, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{maxPath: maxPath, ids: ids, logger: logger.Named("redirect")}
}

// Name implements filter.Filter.
func (f *Filter) Name() string { return "redirect" }

// Describe implements filter.Filter.
func (f *Filter) Describe() []string {
	return []string{fmt.Sprintf("max_path=%d", f.maxPath)}
}

// Filter resolves order when it carries a redirect status and passes every
// other order through.
func (f *Filter) Filter(_ context.Context, order *visit.Order) error {
	if !IsRedirect(order.Status) {
		return nil
	}
	order, next := Resolve(order, f.maxPath)
	if next == nil {
		metrics.ObserveRedirect(visit.StatusText(order.Status))
		f.logger.Info("redirect chain ended",
			zap.String("url", order.URL.String()),
			zap.String("status", visit.StatusText(order.Status)),
			zap.String("reason", order.Reason),
		)
		return nil
	}
	id, err := f.ids.NewID()
	if err != nil {
		return fmt.Errorf("assign redirect id: %w", err)
	}
	next.ID = id
	order.Revisit = next
	metrics.ObserveRedirect("followed")
	f.logger.Debug("redirect followed",
		zap.String("from", order.URL.String()),
		zap.String("to", next.URL.String()),
		zap.Int("hop", order.ChainLength()),
	)
	return nil
}
