package filter

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/metrics"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

const tracerName = "github.com/JakeFAU/visit-scheduler/internal/filter"

// Chain runs its children in order and is itself a Filter, so chains nest.
// It also serves as the manager's visit.Pipeline.
type Chain struct {
	name     string
	children []Filter
	logger   *zap.Logger
}

var (
	_ Container      = (*Chain)(nil)
	_ visit.Pipeline = (*Chain)(nil)
)

// NewChain builds a chain named name over filters.
func NewChain(name string, logger *zap.Logger, filters ...Filter) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{name: name, children: filters, logger: logger.Named("filter")}
}

// Name implements Filter.
func (c *Chain) Name() string { return c.name }

// Children returns the wrapped filters.
func (c *Chain) Children() []Filter {
	out := make([]Filter, len(c.children))
	copy(out, c.children)
	return out
}

// Describe lists the children, with their own descriptions indented below.
func (c *Chain) Describe() []string {
	var lines []string
	for _, child := range c.children {
		lines = append(lines, child.Name())
		for _, d := range child.Describe() {
			lines = append(lines, "  "+d)
		}
	}
	return lines
}

// Filter runs every child until one rejects or fails. Rejections pass
// through unchanged; failures are wrapped with the failing filter's name.
// Each child runs in its own span.
func (c *Chain) Filter(ctx context.Context, order *visit.Order) error {
	for _, child := range c.children {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		if err := c.runChild(ctx, child, order); err != nil {
			if errors.Is(err, ErrReject) {
				return err
			}
			return fmt.Errorf("%s: %w", child.Name(), err)
		}
	}
	return nil
}

func (c *Chain) runChild(ctx context.Context, child Filter, order *visit.Order) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "filter."+child.Name())
	defer span.End()
	span.SetAttributes(attribute.String("visit.url", order.URL.String()))

	err := child.Filter(ctx, order)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("http.status_code", order.Status))
	case errors.Is(err, ErrReject):
		span.SetAttributes(attribute.Bool("visit.rejected", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Process implements visit.Pipeline. A rejection is an expected outcome and
// is only logged and counted.
func (c *Chain) Process(ctx context.Context, order *visit.Order) error {
	err := c.Filter(ctx, order)
	if err == nil || !errors.Is(err, ErrReject) {
		return err
	}
	name := c.name
	var rejection *RejectError
	if errors.As(err, &rejection) {
		name = rejection.Filter
	}
	metrics.ObserveFilterReject(name)
	c.logger.Debug("order rejected", zap.Stringer("order", order), zap.String("filter", name), zap.Error(err))
	return nil
}
