package manual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockAdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := New(start)
	require.Equal(t, start, clk.Now())

	require.Equal(t, start.Add(time.Minute), clk.Advance(time.Minute))
	require.Equal(t, start.Add(time.Minute), clk.Now())

	clk.Set(start)
	require.Equal(t, start, clk.Now())
}
