package publisher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/publisher/memory"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

func TestFilterPublishesEvent(t *testing.T) {
	t.Parallel()

	ref := visit.NewOrder(visiturl.MustNormalize("https://example.com/"), visit.TypePage, 1)
	order := visit.NewOrder(visiturl.MustNormalize("https://example.com/old"), visit.TypePage, 1.5)
	order.ID = "order-1"
	order.Status = http.StatusMovedPermanently
	order.LastVisit = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	order.Referer = ref
	order.Revisit = visit.NewOrder(visiturl.MustNormalize("https://example.com/new"), visit.TypePage, 2)

	pub := memory.New()
	f := NewFilter(pub, "visits", nil)
	require.Equal(t, "publish", f.Name())
	require.Equal(t, []string{"topic=visits"}, f.Describe())
	require.NoError(t, f.Filter(context.Background(), order))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "visits", msgs[0].Topic)
	require.Equal(t, Event{
		ID:        "order-1",
		URL:       "https://example.com/old",
		Type:      "PAGE",
		Status:    http.StatusMovedPermanently,
		StatusMsg: "301",
		LastVisit: order.LastVisit,
		Referer:   "https://example.com/",
		Redirect:  "https://example.com/new",
	}, msgs[0].Payload)
}

func TestNewEventFailure(t *testing.T) {
	t.Parallel()

	order := visit.NewOrder(visiturl.MustNormalize("https://example.com/x"), visit.TypeFeed, 1)
	order.Status = visit.StatusFetchFailed
	order.Reason = "connection refused"

	ev := NewEvent(order)
	require.Equal(t, "fetch_failed", ev.StatusMsg)
	require.Equal(t, "connection refused", ev.Reason)
	require.Empty(t, ev.Referer)
	require.Empty(t, ev.Redirect)
}

func TestFilterWrapsPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	f := NewFilter(failingPublisher{err: boom}, "visits", nil)
	order := visit.NewOrder(visiturl.MustNormalize("https://example.com/x"), visit.TypePage, 1)
	require.ErrorIs(t, f.Filter(context.Background(), order), boom)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", f.err
}
