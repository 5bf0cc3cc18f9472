package visit

import (
	"context"
	"time"
)

// WorkPoller supplies orders from an external source. Implementations must
// not return orders that are already queued or in flight.
type WorkPoller interface {
	Poll(ctx context.Context, max int) ([]*Order, error)
}

// Pipeline processes an acquired order in place. It may attach a follow-up
// order to order.Revisit.
type Pipeline interface {
	Process(ctx context.Context, order *Order) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces order IDs.
type IDGenerator interface {
	NewID() (string, error)
}
