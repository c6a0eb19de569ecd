package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/market"
	"github.com/web3guy0/spreadbot/internal/relay"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REDEMPTION
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNotResolved means the market has not settled yet; try again next tick.
var ErrNotResolved = fmt.Errorf("market not resolved yet")

// ErrRedeemPending means a redemption transaction was submitted but did not
// confirm within the polling budget. The position stays where it is and the
// next tick resumes polling the same transaction.
var ErrRedeemPending = fmt.Errorf("redeem transaction still pending")

// Redeemer settles positions awaiting resolution: it verifies the market
// resolved, submits the gasless redemption, and polls it to confirmation.
// Submission is idempotent per position; a recorded transaction id is polled,
// never resubmitted.
type Redeemer struct {
	venue        Venue
	relayer      Relayer
	resolver     Resolver
	pollAttempts int
	pollInterval time.Duration
}

// RedeemResult is the settled outcome of one position.
type RedeemResult struct {
	Payout decimal.Decimal
}

// NewRedeemer builds the redeemer.
func NewRedeemer(venue Venue, relayer Relayer, resolver Resolver, pollAttempts int, pollInterval time.Duration) *Redeemer {
	return &Redeemer{
		venue:        venue,
		relayer:      relayer,
		resolver:     resolver,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

// Process attempts to settle one AWAITING_RESOLUTION position.
//
// Returns ErrNotResolved while the market is open, ErrRedeemPending when a
// transaction is in flight past the polling budget, and a RedeemResult once
// the payout landed. A position holding no tokens settles immediately with a
// zero payout and no transaction.
func (r *Redeemer) Process(ctx context.Context, book *PositionBook, p *Position) (*RedeemResult, error) {
	// Already settled: success, nothing to submit.
	if p.Status == StatusRedeemed {
		return &RedeemResult{Payout: p.Redeemed}, nil
	}

	m, err := r.resolver.Resolve(ctx, p.Slug, p.WindowTS)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p.Slug, err)
	}
	if !m.Closed {
		return nil, ErrNotResolved
	}

	upBal, err := r.venue.GetTokenBalance(p.UpToken)
	if err != nil {
		return nil, fmt.Errorf("up balance: %w", err)
	}
	downBal, err := r.venue.GetTokenBalance(p.DownToken)
	if err != nil {
		return nil, fmt.Errorf("down balance: %w", err)
	}

	if upBal.IsZero() && downBal.IsZero() {
		log.Info().Str("slug", p.Slug).Msg("✅ Nothing held, settled at zero")
		return &RedeemResult{Payout: decimal.Zero}, nil
	}

	txID := p.RedeemTxID
	if txID == "" {
		txID, err = r.relayer.SubmitRedeem(ctx, p.ConditionID, p.NegRisk)
		if err != nil {
			return nil, fmt.Errorf("submit redeem: %w", err)
		}
		if err := book.SetRedeemTx(p.Slug, txID); err != nil {
			return nil, err
		}
	}

	if err := r.pollConfirmation(ctx, txID); err != nil {
		return nil, err
	}

	payout := estimatePayout(m, upBal, downBal)
	log.Info().
		Str("slug", p.Slug).
		Str("payout", payout.StringFixed(2)).
		Str("tx_id", txID).
		Msg("💰 Position redeemed")

	return &RedeemResult{Payout: payout}, nil
}

// pollConfirmation waits for the transaction to reach a terminal state,
// bounded by the configured attempt budget.
func (r *Redeemer) pollConfirmation(ctx context.Context, txID string) error {
	for attempt := 0; attempt < r.pollAttempts; attempt++ {
		state, err := r.relayer.TransactionState(ctx, txID)
		if err != nil {
			log.Warn().Err(err).Str("tx_id", txID).Msg("⚠️ Redeem status check failed")
		} else {
			switch state {
			case relay.StateConfirmed:
				return nil
			case relay.StateFailed:
				return fmt.Errorf("redeem transaction %s failed on chain", txID)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}

	log.Warn().
		Str("tx_id", txID).
		Int("attempts", r.pollAttempts).
		Msg("⏳ Redeem not confirmed within polling budget, will retry next tick")
	return ErrRedeemPending
}

// estimatePayout values held tokens at the market's resolved per-share
// payouts, 1 for the winning outcome and 0 for the loser.
func estimatePayout(m *market.Market, upBal, downBal decimal.Decimal) decimal.Decimal {
	return upBal.Mul(m.UpPayout).Add(downBal.Mul(m.DownPayout))
}
