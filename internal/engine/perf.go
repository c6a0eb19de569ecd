package engine

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE TRACKING
// ═══════════════════════════════════════════════════════════════════════════════

// Round outcomes.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeFlat = "flat"
)

// Performance aggregates results per stream. Fees are estimated as a flat
// percentage of positive gross P&L; net figures carry that estimate so the
// summary is not flattered by it.
type Performance struct {
	mu sync.Mutex

	stream  string
	feeRate decimal.Decimal // percent

	rounds   int
	wins     int
	losses   int
	flats    int
	bailouts int

	grossPnL decimal.Decimal
	feesPaid decimal.Decimal
	netPnL   decimal.Decimal

	sidesPlaced int
	sidesFilled int
}

// PerfSnapshot is a read-only view of the aggregates.
type PerfSnapshot struct {
	Stream   string
	Rounds   int
	Wins     int
	Losses   int
	Flats    int
	Bailouts int
	GrossPnL decimal.Decimal
	FeesPaid decimal.Decimal
	NetPnL   decimal.Decimal
	WinRate  decimal.Decimal // percent of decided rounds
	FillRate decimal.Decimal // percent of placed sides that filled
}

// NewPerformance builds a tracker for one stream.
func NewPerformance(stream string, feeRatePct decimal.Decimal) *Performance {
	return &Performance{stream: stream, feeRate: feeRatePct}
}

// RecordSides counts order sides placed and, of those, filled. Called once
// per position when it leaves the working state.
func (p *Performance) RecordSides(placed, filled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sidesPlaced += placed
	p.sidesFilled += filled
}

// RecordRound books one finished round. The fee estimate applies to positive
// gross only; losing rounds pay nothing on top. Returns the net P&L after
// fees, which is what feeds the risk counters.
func (p *Performance) RecordRound(gross decimal.Decimal, bailed bool) (net decimal.Decimal, outcome string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fee := decimal.Zero
	if gross.IsPositive() {
		fee = gross.Mul(p.feeRate).Div(decimal.NewFromInt(100))
	}
	net = gross.Sub(fee)

	p.rounds++
	switch {
	case net.IsPositive():
		p.wins++
		outcome = OutcomeWin
	case net.IsNegative():
		p.losses++
		outcome = OutcomeLoss
	default:
		p.flats++
		outcome = OutcomeFlat
	}
	if bailed {
		p.bailouts++
	}

	p.grossPnL = p.grossPnL.Add(gross)
	p.feesPaid = p.feesPaid.Add(fee)
	p.netPnL = p.netPnL.Add(net)

	return net, outcome
}

// Snapshot returns the aggregates.
func (p *Performance) Snapshot() PerfSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PerfSnapshot{
		Stream:   p.stream,
		Rounds:   p.rounds,
		Wins:     p.wins,
		Losses:   p.losses,
		Flats:    p.flats,
		Bailouts: p.bailouts,
		GrossPnL: p.grossPnL,
		FeesPaid: p.feesPaid,
		NetPnL:   p.netPnL,
	}
	if decided := p.wins + p.losses; decided > 0 {
		s.WinRate = decimal.NewFromInt(int64(p.wins)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100))
	}
	if p.sidesPlaced > 0 {
		s.FillRate = decimal.NewFromInt(int64(p.sidesFilled)).
			Div(decimal.NewFromInt(int64(p.sidesPlaced))).
			Mul(decimal.NewFromInt(100))
	}
	return s
}

// LogSummary writes the periodic performance line.
func (p *Performance) LogSummary() {
	s := p.Snapshot()
	log.Info().
		Str("stream", s.Stream).
		Int("rounds", s.Rounds).
		Int("wins", s.Wins).
		Int("losses", s.Losses).
		Int("bailouts", s.Bailouts).
		Str("win_rate", s.WinRate.StringFixed(1)+"%").
		Str("fill_rate", s.FillRate.StringFixed(1)+"%").
		Str("gross_pnl", s.GrossPnL.StringFixed(2)).
		Str("fees", s.FeesPaid.StringFixed(2)).
		Str("net_pnl", s.NetPnL.StringFixed(2)).
		Msg("📊 Performance summary")
}
