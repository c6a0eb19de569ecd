package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeAppliesToPositiveGrossOnly(t *testing.T) {
	p := NewPerformance("15m", decimal.NewFromInt(2))

	net, outcome := p.RecordRound(decimal.NewFromInt(10), false)
	assert.Equal(t, OutcomeWin, outcome)
	assert.True(t, net.Equal(decimal.NewFromFloat(9.8)), "net %s", net)

	net, outcome = p.RecordRound(decimal.NewFromInt(-5), false)
	assert.Equal(t, OutcomeLoss, outcome)
	assert.True(t, net.Equal(decimal.NewFromInt(-5)))

	net, outcome = p.RecordRound(decimal.Zero, false)
	assert.Equal(t, OutcomeFlat, outcome)
	assert.True(t, net.IsZero())

	s := p.Snapshot()
	assert.Equal(t, 3, s.Rounds)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 1, s.Flats)
	assert.True(t, s.GrossPnL.Equal(decimal.NewFromInt(5)))
	assert.True(t, s.FeesPaid.Equal(decimal.NewFromFloat(0.2)))
	assert.True(t, s.NetPnL.Equal(decimal.NewFromFloat(4.8)), "net %s", s.NetPnL)
}

func TestNetEqualsGrossMinusFees(t *testing.T) {
	p := NewPerformance("15m", decimal.NewFromInt(2))

	grosses := []decimal.Decimal{
		decimal.NewFromInt(12),
		decimal.NewFromFloat(-3.5),
		decimal.NewFromFloat(0.75),
		decimal.NewFromInt(-8),
	}
	for _, g := range grosses {
		p.RecordRound(g, false)
	}

	s := p.Snapshot()
	assert.True(t, s.NetPnL.Equal(s.GrossPnL.Sub(s.FeesPaid)),
		"net %s gross %s fees %s", s.NetPnL, s.GrossPnL, s.FeesPaid)
}

func TestWinRateCountsDecidedRoundsOnly(t *testing.T) {
	p := NewPerformance("15m", decimal.Zero)

	p.RecordRound(decimal.NewFromInt(10), false)
	p.RecordRound(decimal.NewFromInt(10), false)
	p.RecordRound(decimal.NewFromInt(-4), false)
	p.RecordRound(decimal.Zero, false) // flat, excluded from the rate

	s := p.Snapshot()
	require.True(t, s.WinRate.Round(2).Equal(decimal.NewFromFloat(66.67)), "win rate %s", s.WinRate)
}

func TestFillRate(t *testing.T) {
	p := NewPerformance("15m", decimal.Zero)

	p.RecordSides(2, 2) // both filled
	p.RecordSides(2, 1) // one-sided
	p.RecordSides(2, 0) // nothing filled

	s := p.Snapshot()
	assert.True(t, s.FillRate.Equal(decimal.NewFromInt(50)), "fill rate %s", s.FillRate)
}

func TestBailoutsCounted(t *testing.T) {
	p := NewPerformance("15m", decimal.NewFromInt(2))

	p.RecordRound(decimal.NewFromFloat(-3.4), true)
	p.RecordRound(decimal.NewFromInt(2), false)

	s := p.Snapshot()
	assert.Equal(t, 1, s.Bailouts)
	assert.Equal(t, 2, s.Rounds)
}
