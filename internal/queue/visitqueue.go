// Package queue implements the in-memory visit scheduler: per-host priority
// queues with politeness throttles, and the VisitQueue that hands out the
// single best eligible order across all hosts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/clock/system"
	"github.com/JakeFAU/visit-scheduler/internal/metrics"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

var (
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("visit queue closed")
	// ErrEmpty is returned by Acquire when no order is queued at all.
	ErrEmpty = errors.New("visit queue empty")
	// ErrInvalidOrder is returned when an order cannot be routed.
	ErrInvalidOrder = errors.New("invalid visit order")
)

// Option customizes a VisitQueue.
type Option func(*VisitQueue)

// WithClock sets the clock used for throttle decisions.
func WithClock(c visit.Clock) Option {
	return func(q *VisitQueue) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *VisitQueue) {
		if l != nil {
			q.logger = l.Named("queue")
		}
	}
}

// VisitQueue routes orders to host queues and arbitrates between them. One
// mutex guards all host queues and counters.
type VisitQueue struct {
	mu       sync.Mutex
	clock    visit.Clock
	logger   *zap.Logger
	defaults HostConfig
	rules    map[ruleKey]HostConfig
	hosts    map[string]*HostQueue
	acquired map[*visit.Order]*HostQueue
	pending  int
	closed   bool
	// changed is closed and replaced on every mutation to wake waiters.
	changed chan struct{}
}

// New builds a VisitQueue seeded with cfg.
func New(cfg Config, opts ...Option) (*VisitQueue, error) {
	q := &VisitQueue{
		clock:    system.New(),
		logger:   zap.NewNop(),
		defaults: cfg.Defaults,
		rules:    make(map[ruleKey]HostConfig, len(cfg.Hosts)),
		hosts:    make(map[string]*HostQueue),
		acquired: make(map[*visit.Order]*HostQueue),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("queue defaults: %w", err)
	}
	for _, rule := range cfg.Hosts {
		key, err := newRuleKey(rule.Domain, rule.Type)
		if err != nil {
			return nil, err
		}
		if err := rule.HostConfig.Validate(); err != nil {
			return nil, fmt.Errorf("host %s: %w", key.queueKey(), err)
		}
		q.rules[key] = rule.HostConfig
	}
	return q, nil
}

// Add queues one order.
func (q *VisitQueue) Add(order *visit.Order) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.addLocked(order)
	q.changedLocked()
	return nil
}

// AddAll queues orders atomically: if any order is invalid none is added.
func (q *VisitQueue) AddAll(orders []*visit.Order) error {
	for i, order := range orders {
		if err := validateOrder(order); err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	for _, order := range orders {
		q.addLocked(order)
	}
	if len(orders) > 0 {
		q.changedLocked()
	}
	return nil
}

// Acquire returns the highest priority order among READY hosts. Ties go to
// the earlier insertion within a host, then to the lower host key. When no
// host is ready it waits, without holding the lock, until the queue changes,
// the earliest throttled host opens, or ctx ends. It returns ErrEmpty when no
// order is queued and ErrClosed after Close.
func (q *VisitQueue) Acquire(ctx context.Context) (*visit.Order, error) {
	start := time.Now()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.pending == 0 {
			q.mu.Unlock()
			return nil, ErrEmpty
		}
		order, wait := q.acquireLocked(q.clock.Now())
		changed := q.changed
		q.mu.Unlock()

		if order != nil {
			metrics.ObserveAcquire(time.Since(start))
			return order, nil
		}
		if err := waitForChange(ctx, changed, wait); err != nil {
			return nil, err
		}
	}
}

// TryAcquire is the non-blocking form of Acquire. It returns nil when no
// order is eligible right now or the queue is closed.
func (q *VisitQueue) TryAcquire() *visit.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	order, _ := q.acquireLocked(q.clock.Now())
	if order != nil {
		metrics.ObserveAcquire(0)
	}
	return order
}

// Release returns the in-flight slot taken by order and queues revisit when
// it is not nil. Releasing an order that is not in flight panics.
func (q *VisitQueue) Release(order, revisit *visit.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()

	hq, ok := q.acquired[order]
	if !ok {
		panic(fmt.Sprintf("queue: release of order not in flight: %v", order))
	}
	delete(q.acquired, order)
	hq.Release()

	outcome := metrics.OutcomeDone
	if revisit != nil {
		switch err := validateOrder(revisit); {
		case err != nil:
			q.logger.Warn("dropping invalid revisit", zap.Stringer("order", order), zap.Error(err))
			outcome = metrics.OutcomeRevisitDropped
		case q.closed:
			q.logger.Debug("dropping revisit after close", zap.Stringer("revisit", revisit))
			outcome = metrics.OutcomeRevisitDropped
		default:
			q.addLocked(revisit)
			outcome = metrics.OutcomeRevisit
		}
	}
	if hq.idle(q.clock.Now()) && q.hosts[hq.key] == hq {
		delete(q.hosts, hq.key)
	}
	q.changedLocked()
	metrics.ObserveRelease(outcome)
}

// ConfigureHost sets the throttle for domain (and its subdomains without a
// rule of their own). An empty typ applies to every order type. Live queues
// fed by the rule pick it up on their next acquisition. Pending orders that
// now route to a more specific rule move to its queue; orders already in
// flight stay counted against the queue they were acquired from.
func (q *VisitQueue) ConfigureHost(domain string, typ visit.Type, minDelay time.Duration, maxAccess int) error {
	cfg := HostConfig{MinDelay: minDelay, MaxAccess: maxAccess}
	key, err := newRuleKey(domain, typ)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("host %s: %w", key.queueKey(), err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.rules[key] = cfg
	if hq, ok := q.hosts[key.queueKey()]; ok {
		hq.config = cfg
		hq.ruled = true
	}
	q.rerouteLocked()
	q.changedLocked()
	q.logger.Info("host configured",
		zap.String("host", key.queueKey()),
		zap.Duration("min_delay", minDelay),
		zap.Int("max_access", maxAccess),
	)
	return nil
}

// ConfigureDefaults sets the throttle for hosts without a matching rule.
func (q *VisitQueue) ConfigureDefaults(minDelay time.Duration, maxAccess int) error {
	cfg := HostConfig{MinDelay: minDelay, MaxAccess: maxAccess}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("queue defaults: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.defaults = cfg
	for _, hq := range q.hosts {
		if !hq.ruled {
			hq.config = cfg
		}
	}
	q.changedLocked()
	return nil
}

// Close stops all acquisitions and wakes waiting callers. In-flight orders
// may still be released.
func (q *VisitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.changedLocked()
}

// Changed returns a channel that is closed on the next mutation of the queue.
func (q *VisitQueue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// OrderCount returns the number of queued orders.
func (q *VisitQueue) OrderCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// AcquiredCount returns the number of orders in flight.
func (q *VisitQueue) AcquiredCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acquired)
}

// HostCount returns the number of live host queues.
func (q *VisitQueue) HostCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hosts)
}

// Stats summarizes the queue for diagnostics.
type Stats struct {
	Queued   int  `json:"queued"`
	Acquired int  `json:"acquired"`
	Hosts    int  `json:"hosts"`
	Closed   bool `json:"closed"`
}

// Stats returns a consistent snapshot of the queue counters.
func (q *VisitQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Queued: q.pending, Acquired: len(q.acquired), Hosts: len(q.hosts), Closed: q.closed}
}

// HostSnapshot is a read-only view of one host queue.
type HostSnapshot struct {
	Key       string        `json:"key"`
	Pending   int           `json:"pending"`
	InFlight  int           `json:"in_flight"`
	MinDelay  time.Duration `json:"min_delay"`
	MaxAccess int           `json:"max_access"`
	NextVisit time.Time     `json:"next_visit"`
	State     string        `json:"state"`
}

// Hosts returns a snapshot of every live host queue, sorted by key.
func (q *VisitQueue) Hosts() []HostSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	out := make([]HostSnapshot, 0, len(q.hosts))
	for _, hq := range q.hosts {
		out = append(out, HostSnapshot{
			Key:       hq.key,
			Pending:   hq.Len(),
			InFlight:  hq.inFlight,
			MinDelay:  hq.config.MinDelay,
			MaxAccess: hq.config.MaxAccess,
			NextVisit: hq.nextVisit,
			State:     hq.State(now).String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (q *VisitQueue) addLocked(order *visit.Order) {
	key, cfg, ruled := q.route(order.URL, order.Type)
	hq, ok := q.hosts[key]
	if !ok {
		hq = &HostQueue{key: key, config: cfg, ruled: ruled}
		q.hosts[key] = hq
	}
	hq.Add(order)
	q.pending++
}

// rerouteLocked moves pending orders whose route no longer matches the queue
// holding them.
func (q *VisitQueue) rerouteLocked() {
	var moved []*visit.Order
	for key, hq := range q.hosts {
		moved = append(moved, hq.take(func(o *visit.Order) bool {
			k, _, _ := q.route(o.URL, o.Type)
			return k != key
		})...)
	}
	for _, order := range moved {
		q.pending--
		q.addLocked(order)
	}
	if len(moved) > 0 {
		q.logger.Debug("rerouted pending orders", zap.Int("count", len(moved)))
	}
}

// route walks from the order's host up to its registered domain and returns
// the first configured level, preferring a typed row at each level. Without
// a match the registered domain keys the queue and the defaults apply.
func (q *VisitQueue) route(u visiturl.URL, typ visit.Type) (string, HostConfig, bool) {
	domain := u.Domain()
	level := u.Host()
	for {
		if typ != "" {
			key := ruleKey{domain: level, typ: typ}
			if cfg, ok := q.rules[key]; ok {
				return key.queueKey(), cfg, true
			}
		}
		if cfg, ok := q.rules[ruleKey{domain: level}]; ok {
			return level, cfg, true
		}
		if level == domain {
			break
		}
		dot := strings.IndexByte(level, '.')
		if dot < 0 {
			break
		}
		level = level[dot+1:]
	}
	return domain, q.defaults, false
}

// acquireLocked takes the best ready order at now. When none is ready it
// returns how long until the earliest throttled host opens, or zero when
// only a release or an add can help.
func (q *VisitQueue) acquireLocked(now time.Time) (*visit.Order, time.Duration) {
	var (
		best      *HostQueue
		bestOrder *visit.Order
		wake      time.Time
	)
	for key, hq := range q.hosts {
		if hq.idle(now) {
			delete(q.hosts, key)
			continue
		}
		if order := hq.PeekReady(now); order != nil {
			if best == nil || order.Priority > bestOrder.Priority ||
				(order.Priority == bestOrder.Priority && key < best.key) {
				best, bestOrder = hq, order
			}
			continue
		}
		if hq.Len() > 0 && hq.inFlight < hq.config.MaxAccess {
			if wake.IsZero() || hq.nextVisit.Before(wake) {
				wake = hq.nextVisit
			}
		}
	}
	defer q.updateGauges()
	if best == nil {
		if wake.IsZero() {
			return nil, 0
		}
		return nil, wake.Sub(now)
	}
	order := best.Acquire(now)
	q.pending--
	q.acquired[order] = best
	return order, 0
}

func (q *VisitQueue) changedLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
	q.updateGauges()
}

func (q *VisitQueue) updateGauges() {
	metrics.SetQueueSizes(q.pending, len(q.acquired), len(q.hosts))
}

func validateOrder(order *visit.Order) error {
	switch {
	case order == nil:
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	case order.URL.IsZero():
		return fmt.Errorf("%w: order has no url", ErrInvalidOrder)
	case math.IsNaN(order.Priority):
		return fmt.Errorf("%w: priority is NaN for %s", ErrInvalidOrder, order.URL)
	}
	return nil
}

func waitForChange(ctx context.Context, changed <-chan struct{}, d time.Duration) error {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("acquire: %w", ctx.Err())
	case <-changed:
	case <-timeout:
	}
	return nil
}
