package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
	"github.com/JakeFAU/visit-scheduler/internal/visiturl"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func order(raw string, priority float64) *visit.Order {
	return visit.NewOrder(visiturl.MustNormalize(raw), visit.TypePage, priority)
}

func TestHostQueuePriorityThenFIFO(t *testing.T) {
	t.Parallel()

	hq, err := NewHostQueue("h.com", HostConfig{MaxAccess: 10})
	require.NoError(t, err)

	first := order("http://h.com/first", 1)
	hq.Add(order("http://h.com/low", 0.5))
	hq.Add(first)
	hq.Add(order("http://h.com/high", 2))
	second := order("http://h.com/second", 1)
	hq.Add(second)

	var got []string
	for hq.Len() > 0 {
		got = append(got, hq.Acquire(epoch).URL.String())
	}
	require.Equal(t, []string{
		"http://h.com/high",
		"http://h.com/first",
		"http://h.com/second",
		"http://h.com/low",
	}, got)
	require.Equal(t, 4, hq.InFlight())
}

func TestHostQueueStates(t *testing.T) {
	t.Parallel()

	hq, err := NewHostQueue("h.com", HostConfig{MinDelay: time.Second, MaxAccess: 1})
	require.NoError(t, err)
	require.Equal(t, StateIdle, hq.State(epoch))
	require.Nil(t, hq.PeekReady(epoch))

	hq.Add(order("http://h.com/a", 1))
	hq.Add(order("http://h.com/b", 1))
	require.Equal(t, StateReady, hq.State(epoch))

	peeked := hq.PeekReady(epoch)
	require.NotNil(t, peeked)
	require.Equal(t, 2, hq.Len(), "peek must not mutate")

	got := hq.Acquire(epoch)
	require.Same(t, peeked, got)
	require.Equal(t, StateBusy, hq.State(epoch))
	require.Equal(t, epoch.Add(time.Second), hq.NextVisit())

	hq.Release()
	require.Equal(t, StateIdle, hq.State(epoch), "min delay still pending")
	require.Nil(t, hq.Acquire(epoch.Add(999*time.Millisecond)))
	require.Equal(t, StateReady, hq.State(epoch.Add(time.Second)))
	require.NotNil(t, hq.Acquire(epoch.Add(time.Second)))
}

func TestHostQueueReleaseWithoutInFlightPanics(t *testing.T) {
	t.Parallel()

	hq, err := NewHostQueue("h.com", DefaultHostConfig)
	require.NoError(t, err)
	require.Panics(t, hq.Release)
}

func TestHostQueueConfigure(t *testing.T) {
	t.Parallel()

	hq, err := NewHostQueue("h.com", DefaultHostConfig)
	require.NoError(t, err)
	hq.Add(order("http://h.com/a", 1))
	hq.Add(order("http://h.com/b", 1))
	require.NotNil(t, hq.Acquire(epoch))
	require.Nil(t, hq.Acquire(epoch))

	require.NoError(t, hq.Configure(HostConfig{MaxAccess: 2}))
	require.NotNil(t, hq.Acquire(epoch))
	require.Equal(t, 2, hq.InFlight())

	err = hq.Configure(HostConfig{MaxAccess: 0})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Equal(t, 2, hq.Config().MaxAccess, "rejected config must not apply")
}

func TestHostConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  HostConfig
		ok   bool
	}{
		{name: "default", cfg: DefaultHostConfig, ok: true},
		{name: "delay", cfg: HostConfig{MinDelay: time.Second, MaxAccess: 3}, ok: true},
		{name: "negative delay", cfg: HostConfig{MinDelay: -time.Millisecond, MaxAccess: 1}},
		{name: "zero access", cfg: HostConfig{}},
		{name: "negative access", cfg: HostConfig{MaxAccess: -2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}

	_, err := NewHostQueue("h.com", HostConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
