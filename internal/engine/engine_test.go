package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/spreadbot/internal/clob"
	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/market"
	"github.com/web3guy0/spreadbot/internal/relay"
)

const testAnchor = int64(1771268400)

func newTestEngine(resolver Resolver, venue Venue, relayer Relayer) *Engine {
	cfg := &config.Config{
		TradingAsset:         "BTC",
		EntryPrice:           decimal.NewFromFloat(0.45),
		MinShares:            decimal.NewFromInt(10),
		MaxShares:            decimal.NewFromInt(100),
		SizingMode:           SizingFixed,
		StopLossPrice:        decimal.NewFromFloat(0.72),
		EnableStopLoss:       false,
		MaxDailyLoss:         decimal.NewFromInt(50),
		MaxConsecutiveLosses: 5,
		MaxConcurrentMarkets: 3,
		AutoRedeem:           true,
		CheckInterval:        time.Second,
		SellOrderExpiry:      5 * time.Minute,
		RedeemPollAttempts:   2,
		RedeemPollInterval:   time.Millisecond,
		LookbackHours:        0,
		FeeRatePct:           decimal.NewFromInt(2),
		SummaryInterval:      time.Hour,
	}
	tf := config.Timeframe{
		Label:         "15m",
		PeriodSeconds: 900,
		Anchor:        testAnchor,
		EntryPrice:    cfg.EntryPrice,
		MaxPositions:  3,
		Enabled:       true,
	}
	e := New(cfg, tf, resolver, venue, relayer, nil, nil, nil)
	e.lastSummary = time.Now()
	return e
}

// upcomingWindow returns the next window to open; the engine places resting
// orders on it every tick.
func upcomingWindow() (string, int64) {
	s := market.NewSchedule("BTC", "15m", testAnchor, 900)
	ts := s.Windows(time.Now().Unix())[1]
	return s.Slug(ts), ts
}

// liveWindow returns a window the engine will enter this tick, preferring the
// one currently running. Within a couple of seconds of a boundary the next
// window is picked instead so it cannot end between here and the tick.
func liveWindow() (string, int64) {
	s := market.NewSchedule("BTC", "15m", testAnchor, 900)
	now := time.Now().Unix()
	w := s.Windows(now)
	ts := w[0]
	if now+2 >= ts+900 {
		ts = w[1]
	}
	return s.Slug(ts), ts
}

func TestTickEntersCurrentWindow(t *testing.T) {
	slug, ts := upcomingWindow()
	m := testMarket(slug, false)
	m.WindowTS = ts

	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, &fakeRelayer{})

	e.tick(context.Background())

	require.Len(t, v.placed, 2, "one buy per side")
	assert.Equal(t, clob.SideBuy, v.placed[0].Side)
	assert.Equal(t, clob.SideBuy, v.placed[1].Side)
	assert.ElementsMatch(t,
		[]string{m.UpToken, m.DownToken},
		[]string{v.placed[0].TokenID, v.placed[1].TokenID})
	for _, o := range v.placed {
		assert.True(t, o.Price.Equal(decimal.NewFromFloat(0.45)))
		assert.True(t, o.Size.Equal(decimal.NewFromInt(100)))
	}

	p := e.book.Get(slug)
	require.NotNil(t, p)
	assert.Equal(t, StatusOpen, p.Status)

	// The next tick must not stack a second entry on the same window.
	e.tick(context.Background())
	assert.Len(t, v.placed, 2)
}

func TestTickEntersRunningWindow(t *testing.T) {
	slug, ts := liveWindow()
	m := testMarket(slug, false)
	m.WindowTS = ts

	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, &fakeRelayer{})

	e.tick(context.Background())

	require.Len(t, v.placed, 2, "a window already running still takes entries")
	for _, o := range v.placed {
		// Orders work until the live period runs out, not until it starts.
		assert.Equal(t, ts+900, o.Expiry.Unix())
	}
	p := e.book.Get(slug)
	require.NotNil(t, p)
	assert.Equal(t, StatusOpen, p.Status)
}

func TestTickSkipsEntryWhenBreakerTripped(t *testing.T) {
	slug, ts := upcomingWindow()
	m := testMarket(slug, false)
	m.WindowTS = ts

	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, &fakeRelayer{})

	for i := 0; i < 5; i++ {
		e.risk.RecordResult(decimal.NewFromInt(-1))
	}

	e.tick(context.Background())
	assert.Empty(t, v.placed)
	assert.False(t, e.book.Has(slug))
}

func TestTickSkipsEntryWhenPaused(t *testing.T) {
	slug, ts := upcomingWindow()
	m := testMarket(slug, false)
	m.WindowTS = ts

	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, &fakeRelayer{})

	e.Pause()
	e.tick(context.Background())
	assert.Empty(t, v.placed)

	e.Resume()
	e.tick(context.Background())
	assert.Len(t, v.placed, 2)
}

func TestTickAdoptsExistingHoldings(t *testing.T) {
	slug, ts := upcomingWindow()
	m := testMarket(slug, false)
	m.WindowTS = ts

	v := newFakeVenue()
	v.balances[m.UpToken] = decimal.NewFromInt(15)
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, &fakeRelayer{})

	e.tick(context.Background())

	assert.Empty(t, v.placed, "holdings present, no fresh entry")
	p := e.book.Get(slug)
	require.NotNil(t, p)
	assert.Equal(t, StatusPartial, p.Status)
	assert.True(t, p.UpFilled.Equal(decimal.NewFromInt(15)))
}

func TestTickRetiresEndedWindows(t *testing.T) {
	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{}}, v, &fakeRelayer{})

	p := testPosition("btc-updown-15m-1771268400")
	p.WindowTS = time.Now().Unix() - 960 // live period over a minute ago
	require.NoError(t, e.book.Add(p))

	e.tick(context.Background())

	got := e.book.Get(p.Slug)
	require.NotNil(t, got)
	assert.Equal(t, StatusAwaiting, got.Status)
	require.Len(t, v.cancelled, 1)
	assert.ElementsMatch(t, []string{p.UpToken, p.DownToken}, v.cancelled[0])
}

func TestStopLossCoversLiveWindow(t *testing.T) {
	v := newFakeVenue()
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{}}, v, &fakeRelayer{})
	e.cfg.EnableStopLoss = true

	p := testPosition("btc-updown-15m-1771268400")
	p.WindowTS = time.Now().Unix() - 1 // one second into its live period
	p.Status = StatusPartial
	p.UpFilled = decimal.NewFromInt(20)
	require.NoError(t, e.book.Add(p))
	v.balances[p.UpToken] = decimal.NewFromInt(20)
	v.setBook(p.UpToken, 0.44, 0.46)
	v.setBook(p.DownToken, 0.44, 0.46)

	// Calm book: the position keeps working through its window.
	e.tick(context.Background())
	got := e.book.Get(p.Slug)
	require.NotNil(t, got)
	assert.Equal(t, StatusPartial, got.Status)
	assert.Empty(t, v.cancelled)

	// The down ask runs away while only the up side is filled: bail out.
	v.setBook(p.DownToken, 0.05, 0.90)
	e.tick(context.Background())

	require.Len(t, v.cancelled, 1)
	require.Len(t, v.placed, 1, "one emergency sell")
	sell := v.placed[0]
	assert.Equal(t, clob.SideSell, sell.Side)
	assert.Equal(t, p.UpToken, sell.TokenID)
	assert.True(t, sell.Price.Equal(decimal.NewFromFloat(0.44)))
	assert.True(t, sell.Size.Equal(decimal.NewFromInt(20)))

	stats := e.Stats()
	assert.Equal(t, 1, stats.Bailouts)
	assert.False(t, e.book.Has(p.Slug))
}

func TestTickSettlesResolvedPosition(t *testing.T) {
	slug := "btc-updown-15m-1771268400"
	m := testMarket(slug, true)

	v := newFakeVenue()
	v.balances[m.UpToken] = decimal.NewFromInt(20)
	relayer := &fakeRelayer{states: []string{relay.StateConfirmed}}
	e := newTestEngine(&fakeResolver{markets: map[string]*market.Market{slug: m}}, v, relayer)

	p := testPosition(slug)
	p.Status = StatusAwaiting
	p.UpFilled = decimal.NewFromInt(20)
	p.DownFilled = decimal.NewFromInt(20)
	p.Cost = decimal.NewFromInt(18)
	require.NoError(t, e.book.Add(p))

	e.tick(context.Background())

	// Payout 20 against cost 18; 2% fee on the 2.00 gross.
	stats := e.Stats()
	assert.Equal(t, 1, stats.Rounds)
	assert.Equal(t, 1, stats.Wins)
	assert.True(t, stats.NetPnL.Equal(decimal.NewFromFloat(1.96)), "net %s", stats.NetPnL)

	// Finished rounds leave the book.
	assert.False(t, e.book.Has(slug))
	assert.Equal(t, 0, e.book.OpenCount())
}
