// Package engine runs the trading loop: one Engine per timeframe stream,
// each owning its schedule, risk state, position book, and settlement path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/feeds"
	"github.com/web3guy0/spreadbot/internal/market"
	"github.com/web3guy0/spreadbot/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTROL LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Engine drives one timeframe stream. Each tick runs the same pipeline:
// enter the current window if admitted, refresh fills, run the stop loss,
// retire ended windows, settle resolved ones. A failure on one market is
// logged and never aborts the others.
type Engine struct {
	cfg      *config.Config
	tf       config.Timeframe
	schedule market.Schedule
	resolver Resolver
	venue    Venue
	feed     *feeds.BookFeed // may be nil
	book     *PositionBook
	risk     *RiskEngine
	perf     *Performance
	stop     *StopLossMonitor
	redeemer *Redeemer
	store    *store.Store
	notifier Notifier // may be nil

	paused      atomic.Bool
	lastSummary time.Time
}

// New wires an engine for one timeframe stream.
func New(cfg *config.Config, tf config.Timeframe, resolver Resolver, venue Venue, relayer Relayer, feed *feeds.BookFeed, st *store.Store, notifier Notifier) *Engine {
	var quoter Quoter
	if feed != nil {
		quoter = feed
	}
	return &Engine{
		cfg:      cfg,
		tf:       tf,
		schedule: market.NewSchedule(cfg.TradingAsset, tf.Label, tf.Anchor, tf.PeriodSeconds),
		resolver: resolver,
		venue:    venue,
		feed:     feed,
		book:     NewPositionBook(tf.Label, st),
		risk:     NewRiskEngine(cfg, tf, st),
		perf:     NewPerformance(tf.Label, cfg.FeeRatePct),
		stop:     NewStopLossMonitor(venue, quoter, cfg.StopLossPrice, cfg.SellOrderExpiry),
		redeemer: NewRedeemer(venue, relayer, resolver, cfg.RedeemPollAttempts, cfg.RedeemPollInterval),
		store:    st,
		notifier: notifier,
	}
}

// Stream returns the timeframe label this engine trades.
func (e *Engine) Stream() string { return e.tf.Label }

// SetNotifier attaches the alert sink. Called during wiring, before Run.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Pause stops new entries; existing positions are still managed.
func (e *Engine) Pause() {
	e.paused.Store(true)
	log.Info().Str("stream", e.tf.Label).Msg("⏸️ Entries paused")
}

// Resume re-enables entries.
func (e *Engine) Resume() {
	e.paused.Store(false)
	log.Info().Str("stream", e.tf.Label).Msg("▶️ Entries resumed")
}

// Paused reports whether new entries are suspended.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Positions returns a copy of every tracked position.
func (e *Engine) Positions() []Position { return e.book.Snapshot() }

// RiskState returns the current risk snapshot.
func (e *Engine) RiskState() RiskSnapshot { return e.risk.Snapshot() }

// Stats returns the performance aggregates.
func (e *Engine) Stats() PerfSnapshot { return e.perf.Snapshot() }

// ResetBreaker clears the circuit breaker on operator request.
func (e *Engine) ResetBreaker() { e.risk.ResetCircuitBreaker() }

// Run executes the control loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.book.Restore(); err != nil {
		return fmt.Errorf("stream %s: %w", e.tf.Label, err)
	}
	if err := e.risk.Restore(); err != nil {
		return fmt.Errorf("stream %s: %w", e.tf.Label, err)
	}
	e.watchOpenPositions()
	e.scanRecentWindows(ctx)

	log.Info().
		Str("stream", e.tf.Label).
		Int64("period", e.tf.PeriodSeconds).
		Str("entry_price", e.tf.EntryPrice.StringFixed(2)).
		Int("open_positions", e.book.OpenCount()).
		Msg("🟢 Stream started")

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	e.lastSummary = time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("stream", e.tf.Label).Msg("🔴 Stream stopping")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one pass of the pipeline.
func (e *Engine) tick(ctx context.Context) {
	if !e.paused.Load() {
		e.tryEnterCurrentWindow(ctx)
	}
	e.refreshFills()
	if e.cfg.EnableStopLoss {
		e.runStopLoss()
	}
	e.retireEndedWindows()
	if e.cfg.AutoRedeem {
		e.settleResolved(ctx)
	}

	if time.Since(e.lastSummary) >= e.cfg.SummaryInterval {
		e.perf.LogSummary()
		e.lastSummary = time.Now()
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Entry
// ───────────────────────────────────────────────────────────────────────────────

// windowEnd returns when the window starting at ts stops trading. The slug
// timestamp marks the start of the live period; fills, the stop loss, and
// resolution all play out over the period that follows it.
func (e *Engine) windowEnd(ts int64) int64 {
	return ts + e.tf.PeriodSeconds
}

// tryEnterCurrentWindow places the dual-sided entry on the running window and
// on the next one to open. Orders on the running window can still fill for
// the rest of its live period; orders on the next one rest until it starts.
func (e *Engine) tryEnterCurrentWindow(ctx context.Context) {
	now := time.Now().Unix()
	windows := e.schedule.Windows(now)
	for _, windowTS := range windows[:2] {
		if now >= e.windowEnd(windowTS) {
			continue
		}
		e.tryEnterWindow(ctx, windowTS)
	}
}

func (e *Engine) tryEnterWindow(ctx context.Context, windowTS int64) {
	slug := e.schedule.Slug(windowTS)

	if e.book.Has(slug) {
		return
	}

	if err := e.risk.CanTrade(e.book.OpenCount()); err != nil {
		log.Debug().Str("stream", e.tf.Label).Str("reason", err.Error()).Msg("🛡️ Entry denied")
		return
	}

	m, err := e.resolver.Resolve(ctx, slug, windowTS)
	if err != nil {
		if errors.Is(err, market.ErrMarketNotFound) {
			log.Debug().Str("slug", slug).Msg("Window not listed yet")
		} else {
			log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Market lookup failed")
		}
		return
	}
	if m.Closed || !m.AcceptingOrders {
		return
	}

	if adopted, err := e.adoptIfPositioned(m); err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Position check failed")
		return
	} else if adopted {
		return
	}

	if err := e.enter(m); err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("❌ Entry failed")
	}
}

// adoptIfPositioned detects holdings or live orders left by an earlier run
// and adopts them as a tracked position instead of stacking a second entry.
func (e *Engine) adoptIfPositioned(m *market.Market) (bool, error) {
	upBal, err := e.venue.GetTokenBalance(m.UpToken)
	if err != nil {
		return false, fmt.Errorf("up balance: %w", err)
	}
	downBal, err := e.venue.GetTokenBalance(m.DownToken)
	if err != nil {
		return false, fmt.Errorf("down balance: %w", err)
	}

	var upOrder, downOrder string
	orders, err := e.venue.GetOpenOrders()
	if err != nil {
		return false, fmt.Errorf("open orders: %w", err)
	}
	for _, o := range orders {
		switch o.TokenID {
		case m.UpToken:
			upOrder = o.ID
		case m.DownToken:
			downOrder = o.ID
		}
	}

	if upBal.IsZero() && downBal.IsZero() && upOrder == "" && downOrder == "" {
		return false, nil
	}

	p := NewPosition(e.tf.Label, m, e.tf.EntryPrice, decimal.Max(upBal, downBal))
	p.UpOrderID = upOrder
	p.DownOrderID = downOrder
	p.UpFilled = upBal
	p.DownFilled = downBal
	p.Cost = upBal.Add(downBal).Mul(e.tf.EntryPrice)
	switch {
	case upBal.IsPositive() || downBal.IsPositive():
		p.Status = StatusPartial
	default:
		p.Status = StatusOpen
	}

	if err := e.book.Add(p); err != nil {
		return false, err
	}
	e.watch(p)

	log.Info().
		Str("slug", m.Slug).
		Str("up_held", upBal.StringFixed(2)).
		Str("down_held", downBal.StringFixed(2)).
		Msg("♻️ Adopted existing position")
	return true, nil
}

// enter sizes the round and places both limit buys. Both orders expire when
// the window's live period ends so nothing survives into the next round. The legs are
// independent: a failed side is logged and the round proceeds with whatever
// was placed, which the lifecycle then treats like any other one-sided
// state. No submission at all means no position.
func (e *Engine) enter(m *market.Market) error {
	balance, err := e.venue.GetUSDCBalance()
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	shares, err := e.risk.SizePosition(balance)
	if err != nil {
		return err
	}

	expiry := time.Unix(e.windowEnd(m.WindowTS), 0)
	upOrder, upErr := e.venue.PlaceLimitBuy(m.UpToken, e.tf.EntryPrice, shares, expiry)
	if upErr != nil {
		log.Warn().Err(upErr).Str("slug", m.Slug).Msg("⚠️ Up leg rejected")
	}
	downOrder, downErr := e.venue.PlaceLimitBuy(m.DownToken, e.tf.EntryPrice, shares, expiry)
	if downErr != nil {
		log.Warn().Err(downErr).Str("slug", m.Slug).Msg("⚠️ Down leg rejected")
	}
	if upErr != nil && downErr != nil {
		return fmt.Errorf("both legs rejected: %w", downErr)
	}

	p := NewPosition(e.tf.Label, m, e.tf.EntryPrice, shares)
	p.UpOrderID = upOrder
	p.DownOrderID = downOrder
	if err := e.book.Add(p); err != nil {
		return err
	}
	e.watch(p)
	e.recordEntryTrades(p)

	log.Info().
		Str("slug", m.Slug).
		Str("price", e.tf.EntryPrice.StringFixed(2)).
		Str("shares", shares.StringFixed(2)).
		Int("legs", 2-boolToInt(upErr != nil)-boolToInt(downErr != nil)).
		Msg("🎯 Dual-sided entry placed")
	e.notify(fmt.Sprintf("🎯 %s entered %s: %s shares per side @ %s",
		e.tf.Label, m.Slug, shares.StringFixed(0), e.tf.EntryPrice.StringFixed(2)))
	return nil
}

func (e *Engine) recordEntryTrades(p *Position) {
	if e.store == nil {
		return
	}
	for _, t := range []struct {
		token, orderID string
	}{
		{p.UpToken, p.UpOrderID},
		{p.DownToken, p.DownOrderID},
	} {
		if t.orderID == "" {
			continue
		}
		rec := &store.TradeRecord{
			Stream:  p.Stream,
			Slug:    p.Slug,
			TokenID: t.token,
			Side:    "BUY",
			Price:   p.EntryPrice,
			Size:    p.Size,
			OrderID: t.orderID,
			Kind:    "entry",
		}
		if err := e.store.SaveTrade(rec); err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Failed to record trade")
		}
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Tracking
// ───────────────────────────────────────────────────────────────────────────────

// refreshFills reads fill progress for every working position. Orders still
// on the book report their matched size; orders gone from the book are read
// back through the token balance, which covers both full fills and expiry.
func (e *Engine) refreshFills() {
	working := e.book.InStatus(StatusOpen, StatusPartial)
	if len(working) == 0 {
		return
	}

	orders, err := e.venue.GetOpenOrders()
	if err != nil {
		log.Warn().Err(err).Str("stream", e.tf.Label).Msg("⚠️ Open orders fetch failed")
		return
	}
	matched := make(map[string]decimal.Decimal, len(orders))
	for _, o := range orders {
		matched[o.ID] = o.Filled
	}

	for i := range working {
		p := &working[i]
		upFilled, err := e.fillFor(p.UpOrderID, p.UpToken, matched)
		if err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Fill check failed")
			continue
		}
		downFilled, err := e.fillFor(p.DownOrderID, p.DownToken, matched)
		if err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Fill check failed")
			continue
		}
		if err := e.book.UpdateFills(p.Slug, upFilled, downFilled); err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Fill update failed")
		}
	}
}

func (e *Engine) fillFor(orderID, tokenID string, matched map[string]decimal.Decimal) (decimal.Decimal, error) {
	if size, live := matched[orderID]; live {
		return size, nil
	}
	return e.venue.GetTokenBalance(tokenID)
}

// ───────────────────────────────────────────────────────────────────────────────
// Stop loss
// ───────────────────────────────────────────────────────────────────────────────

func (e *Engine) runStopLoss() {
	for _, p := range e.book.InStatus(StatusOpen, StatusPartial) {
		p := p
		bailed, recovered, err := e.stop.Check(&p)
		if err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Stop loss check failed")
			continue
		}
		if !bailed {
			continue
		}

		if err := e.book.MarkBailed(p.Slug, recovered); err != nil {
			log.Error().Err(err).Str("slug", p.Slug).Msg("❌ Bail-out bookkeeping failed")
			continue
		}
		e.recordBailTrade(&p, recovered)
		e.finalize(e.book.Get(p.Slug), true)
	}
}

func (e *Engine) recordBailTrade(p *Position, recovered decimal.Decimal) {
	if e.store == nil || !p.HeldSize().IsPositive() {
		return
	}
	heldToken := p.UpToken
	heldSize := p.UpFilled
	if p.DownFilled.GreaterThan(p.UpFilled) {
		heldToken = p.DownToken
		heldSize = p.DownFilled
	}
	price := decimal.Zero
	if heldSize.IsPositive() {
		price = recovered.Div(heldSize)
	}
	rec := &store.TradeRecord{
		Stream:  p.Stream,
		Slug:    p.Slug,
		TokenID: heldToken,
		Side:    "SELL",
		Price:   price,
		Size:    heldSize,
		Kind:    "bailout",
	}
	if err := e.store.SaveTrade(rec); err != nil {
		log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Failed to record trade")
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Window end and settlement
// ───────────────────────────────────────────────────────────────────────────────

// retireEndedWindows moves positions whose live period ran out of the working
// state. Remaining orders are cancelled first; whatever filled rides to
// resolution, including nothing at all.
func (e *Engine) retireEndedWindows() {
	now := time.Now().Unix()
	for _, p := range e.book.InStatus(StatusOpen, StatusPartial, StatusFull) {
		if now < e.windowEnd(p.WindowTS) {
			continue
		}

		if p.Status != StatusFull {
			if err := e.venue.CancelOrders(p.UpToken, p.DownToken); err != nil {
				log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ End-of-window cancel failed")
				continue
			}
		}
		if err := e.book.MarkAwaiting(p.Slug); err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Retire failed")
			continue
		}
		log.Info().
			Str("slug", p.Slug).
			Str("up_filled", p.UpFilled.StringFixed(2)).
			Str("down_filled", p.DownFilled.StringFixed(2)).
			Msg("⏰ Window closed, awaiting resolution")
	}
}

// settleResolved runs the redeemer over everything awaiting resolution.
func (e *Engine) settleResolved(ctx context.Context) {
	for _, p := range e.book.InStatus(StatusAwaiting) {
		p := p
		result, err := e.redeemer.Process(ctx, e.book, &p)
		if err != nil {
			if errors.Is(err, ErrNotResolved) || errors.Is(err, ErrRedeemPending) {
				continue
			}
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Settlement failed, will retry")
			continue
		}

		if err := e.book.MarkRedeemed(p.Slug, result.Payout); err != nil {
			log.Error().Err(err).Str("slug", p.Slug).Msg("❌ Redeem bookkeeping failed")
			continue
		}
		e.finalize(e.book.Get(p.Slug), false)
	}
}

// finalize books a finished position into performance and risk, persists the
// round, and drops the position from memory.
func (e *Engine) finalize(p *Position, bailed bool) {
	if p == nil {
		return
	}

	filled := 0
	if p.UpFilled.IsPositive() {
		filled++
	}
	if p.DownFilled.IsPositive() {
		filled++
	}
	e.perf.RecordSides(2, filled)

	net, outcome := e.perf.RecordRound(p.PnL, bailed)
	e.risk.RecordResult(net)

	if e.store != nil {
		rec := &store.RoundRecord{
			Stream:  p.Stream,
			Slug:    p.Slug,
			Outcome: outcome,
			PnL:     net,
			FeePaid: p.PnL.Sub(net),
			Bailed:  bailed,
		}
		if err := e.store.SaveRound(rec); err != nil {
			log.Warn().Err(err).Str("slug", p.Slug).Msg("⚠️ Failed to record round")
		}
	}

	e.unwatch(p)
	e.book.Forget(p.Slug)

	emoji := "✅"
	if net.IsNegative() {
		emoji = "📉"
	}
	log.Info().
		Str("slug", p.Slug).
		Str("outcome", outcome).
		Str("net_pnl", net.StringFixed(2)).
		Bool("bailed", bailed).
		Msg(emoji + " Round finished")
	e.notify(fmt.Sprintf("%s %s round %s: %s (net %s)",
		emoji, e.tf.Label, p.Slug, outcome, net.StringFixed(2)))
}

// ───────────────────────────────────────────────────────────────────────────────
// Startup
// ───────────────────────────────────────────────────────────────────────────────

// scanRecentWindows walks the lookback range and adopts markets where the
// account still holds tokens, so a restart resumes settlement instead of
// abandoning positions.
func (e *Engine) scanRecentWindows(ctx context.Context) {
	lookback := int64(e.cfg.LookbackHours) * 3600
	for _, ts := range e.schedule.Recent(time.Now().Unix(), lookback) {
		slug := e.schedule.Slug(ts)
		if e.book.Has(slug) {
			continue
		}

		m, err := e.resolver.Resolve(ctx, slug, ts)
		if err != nil {
			if !errors.Is(err, market.ErrMarketNotFound) {
				log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Scan lookup failed")
			}
			continue
		}

		upBal, err := e.venue.GetTokenBalance(m.UpToken)
		if err != nil {
			log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Scan balance failed")
			continue
		}
		downBal, err := e.venue.GetTokenBalance(m.DownToken)
		if err != nil {
			log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Scan balance failed")
			continue
		}
		if upBal.IsZero() && downBal.IsZero() {
			continue
		}

		p := NewPosition(e.tf.Label, m, e.tf.EntryPrice, decimal.Max(upBal, downBal))
		p.Status = StatusAwaiting
		p.UpFilled = upBal
		p.DownFilled = downBal
		p.Cost = upBal.Add(downBal).Mul(e.tf.EntryPrice)
		if err := e.book.Add(p); err != nil {
			log.Warn().Err(err).Str("slug", slug).Msg("⚠️ Scan adopt failed")
			continue
		}

		log.Info().
			Str("slug", slug).
			Str("up_held", upBal.StringFixed(2)).
			Str("down_held", downBal.StringFixed(2)).
			Msg("🔎 Recovered position from startup scan")
	}
}

// watchOpenPositions subscribes the book feed to every restored position.
func (e *Engine) watchOpenPositions() {
	if e.feed == nil {
		return
	}
	for _, p := range e.book.Snapshot() {
		if !p.Finished() {
			e.feed.Watch(p.UpToken, p.DownToken)
		}
	}
}

func (e *Engine) watch(p *Position) {
	if e.feed != nil {
		e.feed.Watch(p.UpToken, p.DownToken)
	}
}

func (e *Engine) unwatch(p *Position) {
	if e.feed != nil {
		e.feed.Unwatch(p.UpToken, p.DownToken)
	}
}

func (e *Engine) notify(text string) {
	if e.notifier != nil {
		e.notifier.Notify(text)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
