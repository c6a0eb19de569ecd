package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAnchor = int64(1771268400)
	period15m  = int64(900)
)

func TestWindowsSpacingAndCoverage(t *testing.T) {
	s := NewSchedule("BTC", "15m", testAnchor, period15m)

	for _, now := range []int64{
		testAnchor,
		testAnchor + 1,
		testAnchor + 450,
		testAnchor + 899,
		testAnchor + 900,
		testAnchor + 100*period15m + 37,
	} {
		w := s.Windows(now)
		assert.Equal(t, period15m, w[1]-w[0], "prev/mid spacing at now=%d", now)
		assert.Equal(t, period15m, w[2]-w[1], "mid/next spacing at now=%d", now)
		// The middle window is the first boundary at or after now.
		assert.GreaterOrEqual(t, w[1], now)
		assert.Less(t, w[1]-period15m, now)
		// Every window is anchor plus a whole number of periods.
		for _, ts := range w {
			assert.Zero(t, (ts-testAnchor)%period15m, "ts=%d not on grid", ts)
		}
	}
}

func TestWindowsExactBoundary(t *testing.T) {
	s := NewSchedule("BTC", "15m", testAnchor, period15m)

	// At an exact boundary the loop does not advance past it.
	w := s.Windows(testAnchor + 3*period15m)
	assert.Equal(t, testAnchor+2*period15m, w[0])
	assert.Equal(t, testAnchor+3*period15m, w[1])
	assert.Equal(t, testAnchor+4*period15m, w[2])
}

func TestWindowsBeforeAnchor(t *testing.T) {
	s := NewSchedule("BTC", "15m", testAnchor, period15m)

	// Clocks behind the anchor still get a well-formed triple around it.
	w := s.Windows(testAnchor - 5000)
	assert.Equal(t, [3]int64{testAnchor - period15m, testAnchor, testAnchor + period15m}, w)
}

func TestSlug(t *testing.T) {
	s := NewSchedule("BTC", "15m", testAnchor, period15m)
	assert.Equal(t, "btc-updown-15m-1771268400", s.Slug(testAnchor))

	s5 := NewSchedule("ETH", "5m", testAnchor, 300)
	assert.Equal(t, "eth-updown-5m-1771268700", s5.Slug(testAnchor+300))
}

func TestRecent(t *testing.T) {
	s := NewSchedule("BTC", "15m", testAnchor, period15m)

	now := testAnchor + 10*period15m + 30
	got := s.Recent(now, 2*3600) // two hours = 8 full periods

	require.NotEmpty(t, got)
	// Oldest first, already ended, on the grid, period apart.
	for i, ts := range got {
		assert.LessOrEqual(t, ts+period15m, now, "ts=%d still running", ts)
		assert.GreaterOrEqual(t, ts, now-2*3600)
		assert.Zero(t, (ts-testAnchor)%period15m)
		if i > 0 {
			assert.Equal(t, period15m, ts-got[i-1])
		}
	}
	assert.Len(t, got, 7)

	// The window running at now never appears; the control loop owns it.
	running := testAnchor + 10*period15m
	assert.NotContains(t, got, running)
}
