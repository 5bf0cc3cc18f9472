package queue

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// State is the scheduling state of a host queue at a given instant.
type State int

// Host queue states.
const (
	// StateIdle means nothing can be offered: the queue is empty or the
	// host's next visit time has not arrived.
	StateIdle State = iota
	// StateReady means an order can be acquired now.
	StateReady
	// StateBusy means every in-flight slot is taken.
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateBusy:
		return "BUSY"
	default:
		return "IDLE"
	}
}

// HostQueue holds the pending orders of one host together with its throttle
// state. It is not synchronized; VisitQueue guards every HostQueue with its
// own lock.
type HostQueue struct {
	key       string
	config    HostConfig
	ruled     bool
	orders    orderHeap
	seq       uint64
	inFlight  int
	nextVisit time.Time
}

// NewHostQueue creates an empty queue for key throttled by cfg.
func NewHostQueue(key string, cfg HostConfig) (*HostQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("host %s: %w", key, err)
	}
	return &HostQueue{key: key, config: cfg}, nil
}

// Key returns the host key the queue was created for.
func (h *HostQueue) Key() string { return h.key }

// Len returns the number of pending orders.
func (h *HostQueue) Len() int { return h.orders.Len() }

// InFlight returns the number of acquired, unreleased orders.
func (h *HostQueue) InFlight() int { return h.inFlight }

// NextVisit returns the earliest time the next acquisition may happen.
func (h *HostQueue) NextVisit() time.Time { return h.nextVisit }

// Config returns the current throttle.
func (h *HostQueue) Config() HostConfig { return h.config }

// State reports the queue state at now.
func (h *HostQueue) State(now time.Time) State {
	switch {
	case h.inFlight >= h.config.MaxAccess:
		return StateBusy
	case h.orders.Len() > 0 && !now.Before(h.nextVisit):
		return StateReady
	default:
		return StateIdle
	}
}

// Add inserts order by descending priority. Orders of equal priority keep
// insertion order.
func (h *HostQueue) Add(order *visit.Order) {
	h.seq++
	heap.Push(&h.orders, entry{order: order, seq: h.seq})
}

// PeekReady returns the highest priority order if the queue is READY at now.
func (h *HostQueue) PeekReady(now time.Time) *visit.Order {
	if h.State(now) != StateReady {
		return nil
	}
	return h.orders[0].order
}

// Acquire removes and returns the highest priority order if the queue is
// READY at now, taking an in-flight slot and starting the min delay.
func (h *HostQueue) Acquire(now time.Time) *visit.Order {
	if h.State(now) != StateReady {
		return nil
	}
	e, _ := heap.Pop(&h.orders).(entry)
	h.inFlight++
	if h.config.MinDelay > 0 {
		h.nextVisit = now.Add(h.config.MinDelay)
	}
	return e.order
}

// Release frees an in-flight slot. Follow-up orders are the caller's to add.
func (h *HostQueue) Release() {
	if h.inFlight == 0 {
		panic(fmt.Sprintf("queue: release on host %s with nothing in flight", h.key))
	}
	h.inFlight--
}

// Configure replaces the throttle. It applies from the next acquisition on;
// orders already in flight keep their slots.
func (h *HostQueue) Configure(cfg HostConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("host %s: %w", h.key, err)
	}
	h.config = cfg
	return nil
}

// take removes the pending orders matching move and returns them in the
// order they were added.
func (h *HostQueue) take(move func(*visit.Order) bool) []*visit.Order {
	var taken []entry
	kept := h.orders[:0]
	for _, e := range h.orders {
		if move(e.order) {
			taken = append(taken, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(taken) == 0 {
		return nil
	}
	for i := len(kept); i < len(h.orders); i++ {
		h.orders[i] = entry{}
	}
	h.orders = kept
	heap.Init(&h.orders)
	sort.Slice(taken, func(i, j int) bool { return taken[i].seq < taken[j].seq })
	out := make([]*visit.Order, len(taken))
	for i, e := range taken {
		out[i] = e.order
	}
	return out
}

// idle reports whether the queue can be dropped at now without losing
// orders, slots or a pending politeness delay.
func (h *HostQueue) idle(now time.Time) bool {
	return h.orders.Len() == 0 && h.inFlight == 0 && !now.Before(h.nextVisit)
}

type entry struct {
	order *visit.Order
	seq   uint64
}

// orderHeap implements heap.Interface as a max-heap on priority, FIFO on ties.
type orderHeap []entry

func (o orderHeap) Len() int { return len(o) }

func (o orderHeap) Less(i, j int) bool {
	if o[i].order.Priority != o[j].order.Priority {
		return o[i].order.Priority > o[j].order.Priority
	}
	return o[i].seq < o[j].seq
}

func (o orderHeap) Swap(i, j int) { o[i], o[j] = o[j], o[i] }

func (o *orderHeap) Push(x any) {
	e, _ := x.(entry)
	*o = append(*o, e)
}

func (o *orderHeap) Pop() any {
	old := *o
	n := len(old)
	x := old[n-1]
	old[n-1] = entry{}
	*o = old[:n-1]
	return x
}
