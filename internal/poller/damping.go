// Package poller provides work sources for the visit manager and the
// domain-depth damping they share.
package poller

import (
	"math"
	"sort"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Ranked is an order with its rank inside its registered domain and the
// priority left after damping.
type Ranked struct {
	Order    *visit.Order
	Rank     int
	Priority float64
}

// Rank orders candidates for polling. Within each registered domain orders
// are ranked by descending priority (rank 0 is the best); rank r loses
// coefficient*r priority and ranks at or past maxPerDomain are dropped.
// maxPerDomain <= 0 disables the cap. The result is sorted by damped
// priority; equal priorities keep input order. orders is not modified.
func Rank(orders []*visit.Order, coefficient float64, maxPerDomain int) []Ranked {
	if maxPerDomain <= 0 {
		maxPerDomain = math.MaxInt
	}
	type indexed struct {
		order *visit.Order
		pos   int
	}
	byDomain := make(map[string][]indexed)
	var domains []string
	for i, o := range orders {
		d := o.URL.Domain()
		if _, ok := byDomain[d]; !ok {
			domains = append(domains, d)
		}
		byDomain[d] = append(byDomain[d], indexed{order: o, pos: i})
	}

	type candidate struct {
		Ranked
		pos int
	}
	var out []candidate
	for _, d := range domains {
		group := byDomain[d]
		sort.SliceStable(group, func(i, j int) bool { return group[i].order.Priority > group[j].order.Priority })
		for rank, entry := range group {
			if rank >= maxPerDomain {
				break
			}
			out = append(out, candidate{
				Ranked: Ranked{
					Order:    entry.order,
					Rank:     rank,
					Priority: entry.order.Priority - coefficient*float64(rank),
				},
				pos: entry.pos,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].pos < out[j].pos
	})

	ranked := make([]Ranked, len(out))
	for i, c := range out {
		ranked[i] = c.Ranked
	}
	return ranked
}

// DampDomainDepth applies Rank and writes the damped priorities back to the
// surviving orders, which it returns in rank order.
func DampDomainDepth(orders []*visit.Order, coefficient float64, maxPerDomain int) []*visit.Order {
	ranked := Rank(orders, coefficient, maxPerDomain)
	out := make([]*visit.Order, len(ranked))
	for i, r := range ranked {
		r.Order.Priority = r.Priority
		out[i] = r.Order
	}
	return out
}
