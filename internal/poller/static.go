package poller

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

// Seed describes one starting URL.
type Seed struct {
	URL      string
	Type     visit.Type
	Priority float64
}

// Static serves a fixed set of orders, each exactly once. Every poll is
// damped by domain depth, so large domains are drained over several polls.
type Static struct {
	mu           sync.Mutex
	pending      []*visit.Order
	coefficient  float64
	maxPerDomain int
}

var _ visit.WorkPoller = (*Static)(nil)

// NewStatic builds a Static poller over orders.
func NewStatic(orders []*visit.Order, coefficient float64, maxPerDomain int) *Static {
	pending := make([]*visit.Order, len(orders))
	copy(pending, orders)
	return &Static{pending: pending, coefficient: coefficient, maxPerDomain: maxPerDomain}
}

// NewStaticFromSeeds normalizes seeds into orders with IDs from ids.
func NewStaticFromSeeds(seeds []Seed, ids visit.IDGenerator, coefficient float64, maxPerDomain int) (*Static, error) {
	orders := make([]*visit.Order, 0, len(seeds))
	for _, s := range seeds {
		u, err := visiturl.Normalize(s.URL)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		typ := s.Type
		if typ == "" {
			typ = visit.TypePage
		}
		order := visit.NewOrder(u, typ, s.Priority)
		if order.ID, err = ids.NewID(); err != nil {
			return nil, fmt.Errorf("seed id: %w", err)
		}
		orders = append(orders, order)
	}
	return NewStatic(orders, coefficient, maxPerDomain), nil
}

// Poll returns up to max of the remaining orders.
func (s *Static) Poll(ctx context.Context, max int) ([]*visit.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("static poll: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := Rank(s.pending, s.coefficient, s.maxPerDomain)
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	taken := make(map[*visit.Order]struct{}, len(ranked))
	out := make([]*visit.Order, len(ranked))
	for i, r := range ranked {
		r.Order.Priority = r.Priority
		taken[r.Order] = struct{}{}
		out[i] = r.Order
	}
	remaining := s.pending[:0]
	for _, o := range s.pending {
		if _, ok := taken[o]; !ok {
			remaining = append(remaining, o)
		}
	}
	s.pending = remaining
	return out, nil
}

// Remaining returns how many orders have not been served.
func (s *Static) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
