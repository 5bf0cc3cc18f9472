package redirect

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func TestFilterAttachesRevisit(t *testing.T) {
	t.Parallel()

	f := NewFilter(3, fixedIDs{id: "next-1"}, nil)
	require.Equal(t, "redirect", f.Name())
	require.Equal(t, []string{"max_path=3"}, f.Describe())

	o := redirected(start("http://h.com/old", 1), "/new")
	require.NoError(t, f.Filter(context.Background(), o))
	require.NotNil(t, o.Revisit)
	require.Equal(t, "next-1", o.Revisit.ID)
	require.Equal(t, "http://h.com/new", o.Revisit.URL.String())
}

func TestFilterIgnoresNonRedirects(t *testing.T) {
	t.Parallel()

	f := NewFilter(3, fixedIDs{id: "x"}, nil)
	o := start("http://h.com/", 1)
	o.Status = http.StatusOK
	require.NoError(t, f.Filter(context.Background(), o))
	require.Nil(t, o.Revisit)
}

func TestFilterTerminalStatus(t *testing.T) {
	t.Parallel()

	f := NewFilter(3, fixedIDs{id: "x"}, nil)
	o := redirected(start("http://h.com/a", 1), "/a")
	require.NoError(t, f.Filter(context.Background(), o))
	require.Nil(t, o.Revisit)
	require.Equal(t, -20, o.Status)
}

func TestFilterIDFailure(t *testing.T) {
	t.Parallel()

	f := NewFilter(3, fixedIDs{err: errors.New("entropy")}, nil)
	o := redirected(start("http://h.com/a", 1), "/b")
	require.Error(t, f.Filter(context.Background(), o))
	require.Nil(t, o.Revisit)
}
