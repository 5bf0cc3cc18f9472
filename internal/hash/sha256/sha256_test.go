// Package sha256 includes tests for the URL key helper.
package sha256

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKeyDeterministic ensures repeated hashing yields the same key.
func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	got := Key("hello world")
	require.Equal(t, "uU0nuZNNPgilLlLX2n2r-sS", got)
	require.Equal(t, got, Key("hello world"))
}

func TestKeyIsFixedWidthAndURLSafe(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "http://h.com/", "http://h.com/a?b=c", strings.Repeat("x", 4096)} {
		key := Key(in)
		require.Len(t, key, KeyLength)
		require.NotContains(t, key, "+")
		require.NotContains(t, key, "/")
		require.NotContains(t, key, "=")
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, Key("http://h.com/a"), Key("http://h.com/b"))
}
