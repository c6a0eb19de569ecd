package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STOP LOSS MONITOR
// ═══════════════════════════════════════════════════════════════════════════════

// StopLossMonitor watches working positions for the one-sided runaway case:
// the market has moved so far that one side filled while the other side's ask
// ran past the threshold, meaning the unfilled buy is now a bet against the
// move. The bail-out cancels both orders and sells what is held at the bid.
type StopLossMonitor struct {
	venue     Venue
	quoter    Quoter // may be nil
	threshold decimal.Decimal
	sellTTL   time.Duration
}

// NewStopLossMonitor builds the monitor.
func NewStopLossMonitor(venue Venue, quoter Quoter, threshold decimal.Decimal, sellTTL time.Duration) *StopLossMonitor {
	return &StopLossMonitor{
		venue:     venue,
		quoter:    quoter,
		threshold: threshold,
		sellTTL:   sellTTL,
	}
}

// bailSignal describes a triggered stop loss: which token ran away and which
// held side must be dumped.
type bailSignal struct {
	runawayAsk decimal.Decimal
	heldToken  string
	heldSize   decimal.Decimal
	bestBid    decimal.Decimal
}

// Check evaluates one working position and, if the stop triggers, executes
// the bail-out. Returns (true, recovered) when the position was bailed;
// recovered is the estimated proceeds of the emergency sell.
func (m *StopLossMonitor) Check(p *Position) (bool, decimal.Decimal, error) {
	if p.Status != StatusOpen && p.Status != StatusPartial {
		return false, decimal.Zero, nil
	}

	sig, triggered, err := m.evaluate(p)
	if err != nil {
		return false, decimal.Zero, err
	}
	if !triggered {
		return false, decimal.Zero, nil
	}

	log.Warn().
		Str("slug", p.Slug).
		Str("runaway_ask", sig.runawayAsk.StringFixed(2)).
		Str("threshold", m.threshold.StringFixed(2)).
		Str("held_size", sig.heldSize.StringFixed(2)).
		Msg("🚨 Stop loss triggered")

	if err := m.venue.CancelOrders(p.UpToken, p.DownToken); err != nil {
		return false, decimal.Zero, fmt.Errorf("cancel before bail: %w", err)
	}

	recovered := decimal.Zero
	if sig.heldSize.IsPositive() && sig.bestBid.IsPositive() {
		_, err := m.venue.PlaceLimitSell(sig.heldToken, sig.bestBid, sig.heldSize, time.Now().Add(m.sellTTL))
		if err != nil {
			// Orders are already cancelled; the position must still leave
			// the working state or the next tick re-triggers forever.
			log.Error().Err(err).Str("slug", p.Slug).Msg("⚠️ Bail-out sell failed, held tokens ride to resolution")
		} else {
			recovered = sig.heldSize.Mul(sig.bestBid)
			log.Info().
				Str("slug", p.Slug).
				Str("price", sig.bestBid.StringFixed(2)).
				Str("recovered", recovered.StringFixed(2)).
				Msg("📉 Bailed out at best bid")
		}
	}

	return true, recovered, nil
}

// evaluate reads both sides' top of book and the fill state. The trigger
// needs all three at once: an ask through the threshold, nothing filled on
// that runaway side, and something filled on the other side.
func (m *StopLossMonitor) evaluate(p *Position) (bailSignal, bool, error) {
	upBid, upAsk, err := m.topOfBook(p.UpToken)
	if err != nil {
		return bailSignal{}, false, fmt.Errorf("up book: %w", err)
	}
	downBid, downAsk, err := m.topOfBook(p.DownToken)
	if err != nil {
		return bailSignal{}, false, fmt.Errorf("down book: %w", err)
	}

	if upAsk.GreaterThan(m.threshold) && p.UpFilled.IsZero() && p.DownFilled.IsPositive() {
		return bailSignal{
			runawayAsk: upAsk,
			heldToken:  p.DownToken,
			heldSize:   p.DownFilled,
			bestBid:    downBid,
		}, true, nil
	}
	if downAsk.GreaterThan(m.threshold) && p.DownFilled.IsZero() && p.UpFilled.IsPositive() {
		return bailSignal{
			runawayAsk: downAsk,
			heldToken:  p.UpToken,
			heldSize:   p.UpFilled,
			bestBid:    upBid,
		}, true, nil
	}
	return bailSignal{}, false, nil
}

// topOfBook prefers the websocket cache and falls back to the REST book.
func (m *StopLossMonitor) topOfBook(tokenID string) (bid, ask decimal.Decimal, err error) {
	if m.quoter != nil {
		if q, ok := m.quoter.TopOfBook(tokenID); ok {
			return q.BestBid, q.BestAsk, nil
		}
	}

	book, err := m.venue.GetOrderBook(tokenID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return book.BestBid(), book.BestAsk(), nil
}
