// Package publisher announces finished visits to downstream consumers.
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Event is the payload published for every processed order.
type Event struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Type      string    `json:"type,omitempty"`
	Status    int       `json:"status"`
	StatusMsg string    `json:"status_text"`
	Reason    string    `json:"reason,omitempty"`
	LastVisit time.Time `json:"last_visit"`
	Referer   string    `json:"referer,omitempty"`
	Redirect  string    `json:"redirect,omitempty"`
}

// NewEvent builds the completion event for order.
func NewEvent(order *visit.Order) Event {
	ev := Event{
		ID:        order.ID,
		URL:       order.URL.String(),
		Type:      string(order.Type),
		Status:    order.Status,
		StatusMsg: visit.StatusText(order.Status),
		Reason:    order.Reason,
		LastVisit: order.LastVisit,
	}
	if order.Referer != nil {
		ev.Referer = order.Referer.URL.String()
	}
	if order.Revisit != nil {
		ev.Redirect = order.Revisit.URL.String()
	}
	return ev
}

// Filter publishes a completion event for each order that reaches it.
type Filter struct {
	pub    visit.Publisher
	topic  string
	logger *zap.Logger
}

// NewFilter returns a pipeline stage publishing to topic through pub.
func NewFilter(pub visit.Publisher, topic string, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{pub: pub, topic: topic, logger: logger.Named("publish")}
}

// Name implements filter.Filter.
func (f *Filter) Name() string { return "publish" }

// Describe implements filter.Filter.
func (f *Filter) Describe() []string {
	return []string{"topic=" + f.topic}
}

// Filter implements filter.Filter.
func (f *Filter) Filter(ctx context.Context, order *visit.Order) error {
	id, err := f.pub.Publish(ctx, f.topic, NewEvent(order))
	if err != nil {
		return fmt.Errorf("publish %s: %w", order.URL, err)
	}
	f.logger.Debug("published visit",
		zap.String("url", order.URL.String()),
		zap.String("message_id", id),
		zap.Int("status", order.Status),
	)
	return nil
}
