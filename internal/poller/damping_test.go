package poller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

func newOrder(raw string, priority float64) *visit.Order {
	return visit.NewOrder(visiturl.MustNormalize(raw), visit.TypePage, priority)
}

func urls(orders []*visit.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.URL.String()
	}
	return out
}

func TestRankDampsByDomainDepth(t *testing.T) {
	t.Parallel()

	in := []*visit.Order{
		newOrder("http://big.com/1", 10),
		newOrder("http://www.big.com/2", 9),
		newOrder("http://big.com/3", 8),
		newOrder("http://small.org/1", 7),
	}
	ranked := Rank(in, 2, 0)

	require.Len(t, ranked, 4)
	got := map[string]float64{}
	for _, r := range ranked {
		got[r.Order.URL.String()] = r.Priority
	}
	require.Equal(t, map[string]float64{
		"http://big.com/1":     10,
		"http://www.big.com/2": 7,
		"http://big.com/3":     4,
		"http://small.org/1":   7,
	}, got)
	require.Equal(t, "http://big.com/1", ranked[0].Order.URL.String())
	require.Equal(t, "http://www.big.com/2", ranked[1].Order.URL.String(), "ties keep input order")
	require.Equal(t, "http://small.org/1", ranked[2].Order.URL.String())
	require.InDelta(t, 10, in[0].Priority, 0, "Rank does not modify orders")
	require.InDelta(t, 9, in[1].Priority, 0)
}

func TestDampDomainDepthCapsPerDomain(t *testing.T) {
	t.Parallel()

	in := []*visit.Order{
		newOrder("http://big.com/low", 1),
		newOrder("http://big.com/high", 5),
		newOrder("http://big.com/mid", 3),
		newOrder("http://other.com/only", 2),
	}
	out := DampDomainDepth(in, 0.5, 2)

	require.Equal(t, []string{"http://big.com/high", "http://big.com/mid", "http://other.com/only"}, urls(out))
	require.InDelta(t, 2.5, out[1].Priority, 1e-9)
}
