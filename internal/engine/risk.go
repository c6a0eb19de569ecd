package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK ENGINE
// ═══════════════════════════════════════════════════════════════════════════════

// Sizing modes.
const (
	SizingFixed   = "fixed"
	SizingPercent = "percent"
)

// RiskEngine gates every new round. Loss counters roll over at UTC midnight;
// the circuit breaker does not. Once tripped it stays tripped until an
// operator resets it, across restarts too.
type RiskEngine struct {
	mu sync.Mutex

	stream         string
	maxDailyLoss   decimal.Decimal
	maxConsecutive int
	maxConcurrent  int
	sizingMode     string
	riskPercent    decimal.Decimal
	minShares      decimal.Decimal
	maxShares      decimal.Decimal
	entryPrice     decimal.Decimal

	dailyLoss         decimal.Decimal
	consecutiveLosses int
	day               string // UTC day the counters belong to
	breakerOn         bool
	breakerReason     string

	store *store.Store
}

// RiskSnapshot is a read-only view for status surfaces.
type RiskSnapshot struct {
	Stream            string
	DailyLoss         decimal.Decimal
	MaxDailyLoss      decimal.Decimal
	ConsecutiveLosses int
	MaxConsecutive    int
	CircuitBreakerOn  bool
	BreakerReason     string
}

// NewRiskEngine builds the risk engine for one stream.
func NewRiskEngine(cfg *config.Config, tf config.Timeframe, st *store.Store) *RiskEngine {
	return &RiskEngine{
		stream:         tf.Label,
		maxDailyLoss:   cfg.MaxDailyLoss,
		maxConsecutive: cfg.MaxConsecutiveLosses,
		maxConcurrent:  tf.MaxPositions,
		sizingMode:     cfg.SizingMode,
		riskPercent:    cfg.RiskPercent,
		minShares:      cfg.MinShares,
		maxShares:      cfg.MaxShares,
		entryPrice:     tf.EntryPrice,
		day:            utcDay(time.Now()),
		store:          st,
	}
}

// Restore loads the persisted breaker flag and replays today's recorded
// rounds to rebuild the loss counters. A breaker tripped yesterday is still
// tripped now; yesterday's rounds no longer count against today.
func (r *RiskEngine) Restore() error {
	if r.store == nil {
		return nil
	}
	rec, err := r.store.LoadRiskState(r.stream)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	rounds, err := r.store.RoundsSince(r.stream, startOfUTCDay(time.Now()))
	if err != nil {
		return fmt.Errorf("load rounds: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec != nil {
		r.breakerOn = rec.CircuitBreakerOn
		r.breakerReason = rec.BreakerReason
	}
	for i := range rounds {
		if rounds[i].PnL.IsNegative() {
			r.dailyLoss = r.dailyLoss.Add(rounds[i].PnL.Abs())
			r.consecutiveLosses++
		} else {
			r.consecutiveLosses = 0
		}
	}

	if len(rounds) > 0 {
		log.Info().
			Str("stream", r.stream).
			Int("rounds", len(rounds)).
			Str("daily_loss", r.dailyLoss.StringFixed(2)).
			Int("consecutive", r.consecutiveLosses).
			Msg("📂 Rebuilt loss counters from today's rounds")
	}
	if r.breakerOn {
		log.Warn().
			Str("stream", r.stream).
			Str("reason", r.breakerReason).
			Msg("🛡️ Circuit breaker restored TRIPPED")
	}
	return nil
}

// CanTrade decides whether a new round may start. The returned error names
// the denial reason. Loss-limit denials trip the breaker; a full book is a
// plain capacity denial and trips nothing.
func (r *RiskEngine) CanTrade(openPositions int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollDayLocked()

	if r.breakerOn {
		return fmt.Errorf("circuit breaker tripped: %s", r.breakerReason)
	}

	if r.dailyLoss.GreaterThanOrEqual(r.maxDailyLoss) {
		r.tripLocked(fmt.Sprintf("daily loss %s reached limit %s",
			r.dailyLoss.StringFixed(2), r.maxDailyLoss.StringFixed(2)))
		return fmt.Errorf("circuit breaker tripped: %s", r.breakerReason)
	}

	if r.consecutiveLosses >= r.maxConsecutive {
		r.tripLocked(fmt.Sprintf("%d consecutive losses", r.consecutiveLosses))
		return fmt.Errorf("circuit breaker tripped: %s", r.breakerReason)
	}

	if openPositions >= r.maxConcurrent {
		return fmt.Errorf("at capacity: %d/%d positions open", openPositions, r.maxConcurrent)
	}

	return nil
}

// SizePosition returns shares per side for a new round. Fixed mode trades
// the configured maximum size; percent mode risks a fraction of the balance
// across both sides, clamped to the configured bounds. Either way the round
// must be affordable at the entry price.
func (r *RiskEngine) SizePosition(balance decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shares := r.maxShares
	if r.sizingMode == SizingPercent {
		budget := balance.Mul(r.riskPercent).Div(decimal.NewFromInt(100))
		costPerShare := r.entryPrice.Mul(decimal.NewFromInt(2))
		shares = budget.Div(costPerShare).Floor()
		if shares.LessThan(r.minShares) {
			shares = r.minShares
		}
		if shares.GreaterThan(r.maxShares) {
			shares = r.maxShares
		}
	}

	cost := shares.Mul(r.entryPrice).Mul(decimal.NewFromInt(2))
	if cost.GreaterThan(balance) {
		return decimal.Zero, fmt.Errorf("insufficient balance: need %s, have %s",
			cost.StringFixed(2), balance.StringFixed(2))
	}
	return shares, nil
}

// RecordResult feeds one finished round back into the loss counters. Any
// non-negative result, flat rounds included, clears the consecutive-loss
// streak; a loss extends it and adds to the daily total. Limits crossed here
// trip the breaker immediately rather than on the next admission check.
func (r *RiskEngine) RecordResult(pnl decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollDayLocked()

	if pnl.IsNegative() {
		r.dailyLoss = r.dailyLoss.Add(pnl.Abs())
		r.consecutiveLosses++
		log.Warn().
			Str("stream", r.stream).
			Str("pnl", pnl.StringFixed(2)).
			Str("daily_loss", r.dailyLoss.StringFixed(2)).
			Int("consecutive", r.consecutiveLosses).
			Msg("📉 Loss recorded")

		if r.dailyLoss.GreaterThanOrEqual(r.maxDailyLoss) {
			r.tripLocked(fmt.Sprintf("daily loss %s reached limit %s",
				r.dailyLoss.StringFixed(2), r.maxDailyLoss.StringFixed(2)))
		} else if r.consecutiveLosses >= r.maxConsecutive {
			r.tripLocked(fmt.Sprintf("%d consecutive losses", r.consecutiveLosses))
		}
	} else {
		r.consecutiveLosses = 0
	}
}

// ResetCircuitBreaker clears the breaker and the consecutive-loss streak.
// The daily loss total stands; if it already exceeds the limit the next
// admission check trips again, which is the operator's cue to raise the
// limit rather than keep resetting.
func (r *RiskEngine) ResetCircuitBreaker() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakerOn = false
	r.breakerReason = ""
	r.consecutiveLosses = 0
	r.persistLocked()

	log.Info().Str("stream", r.stream).Msg("🔄 Circuit breaker reset")
}

// Snapshot returns the current risk state for status surfaces.
func (r *RiskEngine) Snapshot() RiskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollDayLocked()
	return RiskSnapshot{
		Stream:            r.stream,
		DailyLoss:         r.dailyLoss,
		MaxDailyLoss:      r.maxDailyLoss,
		ConsecutiveLosses: r.consecutiveLosses,
		MaxConsecutive:    r.maxConsecutive,
		CircuitBreakerOn:  r.breakerOn,
		BreakerReason:     r.breakerReason,
	}
}

// rollDayLocked resets the loss counters when the UTC day changed. The
// breaker flag survives the rollover on purpose.
func (r *RiskEngine) rollDayLocked() {
	today := utcDay(time.Now())
	if today == r.day {
		return
	}

	log.Info().
		Str("stream", r.stream).
		Str("day", today).
		Msg("📅 Daily risk counters reset")

	r.day = today
	r.dailyLoss = decimal.Zero
	r.consecutiveLosses = 0
}

func (r *RiskEngine) tripLocked(reason string) {
	r.breakerOn = true
	r.breakerReason = reason
	r.persistLocked()

	log.Error().
		Str("stream", r.stream).
		Str("reason", reason).
		Msg("🚨 CIRCUIT BREAKER TRIPPED - manual reset required")
}

// persistLocked writes the breaker flag through. The loss counters are not
// persisted; Restore rebuilds them from the day's round records.
func (r *RiskEngine) persistLocked() {
	if r.store == nil {
		return
	}
	rec := &store.RiskStateRecord{
		Stream:           r.stream,
		CircuitBreakerOn: r.breakerOn,
		BreakerReason:    r.breakerReason,
	}
	if err := r.store.SaveRiskState(rec); err != nil {
		log.Error().Err(err).Str("stream", r.stream).Msg("⚠️ Failed to persist risk state")
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
