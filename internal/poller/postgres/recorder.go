package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Recorder is the pipeline stage that persists each order's outcome.
type Recorder struct {
	store *Store
}

// NewRecorder wraps store as a filter.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Name implements filter.Filter.
func (r *Recorder) Name() string { return "postgres-recorder" }

// Describe implements filter.Filter.
func (r *Recorder) Describe() []string {
	return []string{
		"table=" + r.store.cfg.Table,
		"revisit_after=" + r.store.cfg.RevisitAfter.String(),
	}
}

// Filter implements filter.Filter.
func (r *Recorder) Filter(ctx context.Context, order *visit.Order) error {
	if err := r.store.RecordVisit(ctx, order); err != nil {
		return fmt.Errorf("persist %s: %w", order.URL, err)
	}
	return nil
}
