package poller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "id-" + string(rune('0'+s.n)), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("no ids") }

func TestStaticServesEachOrderOnce(t *testing.T) {
	t.Parallel()

	p := NewStatic([]*visit.Order{
		newOrder("http://a.com/1", 3),
		newOrder("http://a.com/2", 2),
		newOrder("http://a.com/3", 1),
		newOrder("http://b.com/1", 1),
	}, 0, 2)

	first, err := p.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"http://a.com/1", "http://a.com/2", "http://b.com/1"}, urls(first))
	require.Equal(t, 1, p.Remaining())

	second, err := p.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"http://a.com/3"}, urls(second))

	third, err := p.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, third)
}

func TestStaticHonorsMax(t *testing.T) {
	t.Parallel()

	p := NewStatic([]*visit.Order{newOrder("http://a.com/", 1), newOrder("http://b.com/", 2)}, 0, 0)
	got, err := p.Poll(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"http://b.com/"}, urls(got))
	require.Equal(t, 1, p.Remaining())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Poll(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewStaticFromSeeds(t *testing.T) {
	t.Parallel()

	p, err := NewStaticFromSeeds([]Seed{
		{URL: "HTTP://Example.com/", Priority: 1},
		{URL: "https://example.org/feed.xml", Type: visit.TypeFeed, Priority: 2},
	}, &seqIDs{}, 0, 0)
	require.NoError(t, err)

	got, err := p.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, visit.TypeFeed, got[0].Type)
	require.Equal(t, "id-2", got[0].ID)
	require.Equal(t, visit.TypePage, got[1].Type)
	require.Equal(t, "http://example.com/", got[1].URL.String())

	_, err = NewStaticFromSeeds([]Seed{{URL: "ftp://x"}}, &seqIDs{}, 0, 0)
	require.Error(t, err)
	_, err = NewStaticFromSeeds([]Seed{{URL: "http://x.com"}}, failingIDs{}, 0, 0)
	require.Error(t, err)
}
