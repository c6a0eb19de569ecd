package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/market"
	"github.com/web3guy0/spreadbot/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════

// Position statuses. A position moves forward only:
//
//	OPEN -> PARTIAL -> FULL -> AWAITING_RESOLUTION -> REDEEMED
//	          \------------\-> BAILED
//
// OPEN and PARTIAL positions whose window ended go to AWAITING_RESOLUTION
// after their remaining orders are cancelled; the redeemer settles whatever
// is actually held, including nothing.
const (
	StatusOpen     = "OPEN"
	StatusPartial  = "PARTIAL"
	StatusFull     = "FULL"
	StatusBailed   = "BAILED"
	StatusAwaiting = "AWAITING_RESOLUTION"
	StatusRedeemed = "REDEEMED"
)

// OpenStatuses are the statuses a restart must re-adopt.
var OpenStatuses = []string{StatusOpen, StatusPartial, StatusFull, StatusAwaiting}

// Position is one dual-sided entry on a window market.
type Position struct {
	Slug        string
	Stream      string
	WindowTS    int64
	ConditionID string
	Question    string
	UpToken     string
	DownToken   string
	NegRisk     bool
	Status      string
	EntryPrice  decimal.Decimal
	Size        decimal.Decimal // shares per side
	UpOrderID   string
	DownOrderID string
	UpFilled    decimal.Decimal
	DownFilled  decimal.Decimal
	Cost        decimal.Decimal // USD spent on fills
	Recovered   decimal.Decimal // bail-out proceeds estimate
	Redeemed    decimal.Decimal // redemption payout
	PnL         decimal.Decimal
	RedeemTxID  string
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// Finished reports whether the position reached a terminal state.
func (p *Position) Finished() bool {
	return p.Status == StatusBailed || p.Status == StatusRedeemed
}

// HeldSize returns total shares currently attributed to the position.
func (p *Position) HeldSize() decimal.Decimal {
	return p.UpFilled.Add(p.DownFilled)
}

// PositionBook tracks every position of one stream and writes each mutation
// through to the store before returning. All methods are safe for concurrent
// use; Snapshot hands out copies so readers never see a position mid-update.
type PositionBook struct {
	mu        sync.RWMutex
	stream    string
	positions map[string]*Position
	store     *store.Store
}

// NewPositionBook builds an empty book for a stream.
func NewPositionBook(stream string, st *store.Store) *PositionBook {
	return &PositionBook{
		stream:    stream,
		positions: make(map[string]*Position),
		store:     st,
	}
}

// Restore loads the stream's unfinished positions from the store. Called once
// at startup, before the control loop runs.
func (b *PositionBook) Restore() error {
	if b.store == nil {
		return nil
	}
	records, err := b.store.OpenPositions(b.stream, OpenStatuses)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range records {
		p := fromRecord(&records[i])
		b.positions[p.Slug] = p
	}

	if len(records) > 0 {
		log.Info().
			Str("stream", b.stream).
			Int("count", len(records)).
			Msg("📂 Restored open positions")
	}
	return nil
}

// Add registers a freshly opened position and persists it.
func (b *PositionBook) Add(p *Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.positions[p.Slug]; exists {
		return fmt.Errorf("position %s already tracked", p.Slug)
	}
	b.positions[p.Slug] = p
	return b.persist(p)
}

// Get returns a copy of the position for slug, or nil.
func (b *PositionBook) Get(slug string) *Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[slug]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Has reports whether slug is tracked at all, finished or not.
func (b *PositionBook) Has(slug string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[slug]
	return ok
}

// OpenCount returns how many positions still tie up capital. Positions
// awaiting resolution no longer hold working orders but their collateral is
// not back yet, so they count against capacity.
func (b *PositionBook) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, p := range b.positions {
		if !p.Finished() {
			n++
		}
	}
	return n
}

// Snapshot returns copies of all tracked positions, oldest window first.
func (b *PositionBook) Snapshot() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowTS < out[j].WindowTS })
	return out
}

// InStatus returns copies of positions currently in any of the given
// statuses, oldest window first.
func (b *PositionBook) InStatus(statuses ...string) []Position {
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Position
	for _, p := range b.positions {
		if want[p.Status] {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowTS < out[j].WindowTS })
	return out
}

// UpdateFills records fresh fill sizes and advances OPEN/PARTIAL/FULL.
// Cost is recomputed from fills at the entry price. Transitions never move
// backwards even if the venue briefly reports smaller fills.
func (b *PositionBook) UpdateFills(slug string, upFilled, downFilled decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[slug]
	if !ok {
		return fmt.Errorf("unknown position %s", slug)
	}
	if p.Status != StatusOpen && p.Status != StatusPartial {
		return nil
	}

	if upFilled.GreaterThan(p.UpFilled) {
		p.UpFilled = upFilled
	}
	if downFilled.GreaterThan(p.DownFilled) {
		p.DownFilled = downFilled
	}
	p.Cost = p.UpFilled.Add(p.DownFilled).Mul(p.EntryPrice)

	switch {
	case p.UpFilled.GreaterThanOrEqual(p.Size) && p.DownFilled.GreaterThanOrEqual(p.Size):
		p.Status = StatusFull
		log.Info().Str("slug", p.Slug).Msg("✅ Both sides filled")
	case p.UpFilled.IsPositive() || p.DownFilled.IsPositive():
		p.Status = StatusPartial
	}

	return b.persist(p)
}

// MarkAwaiting moves a position to AWAITING_RESOLUTION once its window ended
// and no working orders remain.
func (b *PositionBook) MarkAwaiting(slug string) error {
	return b.transition(slug, StatusAwaiting, func(p *Position) {
		p.UpOrderID = ""
		p.DownOrderID = ""
	})
}

// MarkBailed closes a position through the stop-loss path. recovered is the
// estimated proceeds of the emergency sell; P&L nets it against the cost.
func (b *PositionBook) MarkBailed(slug string, recovered decimal.Decimal) error {
	return b.transition(slug, StatusBailed, func(p *Position) {
		now := time.Now()
		p.Recovered = recovered
		p.PnL = recovered.Sub(p.Cost)
		p.ClosedAt = &now
		p.UpOrderID = ""
		p.DownOrderID = ""
	})
}

// SetRedeemTx records the relayer transaction id so a restart polls instead
// of submitting the redemption twice.
func (b *PositionBook) SetRedeemTx(slug, txID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[slug]
	if !ok {
		return fmt.Errorf("unknown position %s", slug)
	}
	p.RedeemTxID = txID
	return b.persist(p)
}

// MarkRedeemed finalizes a position with its redemption payout.
func (b *PositionBook) MarkRedeemed(slug string, payout decimal.Decimal) error {
	return b.transition(slug, StatusRedeemed, func(p *Position) {
		now := time.Now()
		p.Redeemed = payout
		p.PnL = payout.Add(p.Recovered).Sub(p.Cost)
		p.ClosedAt = &now
	})
}

// Forget drops a finished position from memory. The store row remains.
func (b *PositionBook) Forget(slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[slug]; ok && p.Finished() {
		delete(b.positions, slug)
	}
}

func (b *PositionBook) transition(slug, status string, mutate func(*Position)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[slug]
	if !ok {
		return fmt.Errorf("unknown position %s", slug)
	}
	if p.Finished() {
		return fmt.Errorf("position %s already %s", slug, p.Status)
	}

	p.Status = status
	mutate(p)
	return b.persist(p)
}

// persist writes the position through to the store. Caller holds the lock.
func (b *PositionBook) persist(p *Position) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SavePosition(toRecord(p)); err != nil {
		return fmt.Errorf("save position %s: %w", p.Slug, err)
	}
	return nil
}

// NewPosition builds an OPEN position for a resolved market.
func NewPosition(stream string, m *market.Market, entryPrice, size decimal.Decimal) *Position {
	return &Position{
		Slug:        m.Slug,
		Stream:      stream,
		WindowTS:    m.WindowTS,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		UpToken:     m.UpToken,
		DownToken:   m.DownToken,
		NegRisk:     m.NegRisk,
		Status:      StatusOpen,
		EntryPrice:  entryPrice,
		Size:        size,
		OpenedAt:    time.Now(),
	}
}

func toRecord(p *Position) *store.PositionRecord {
	return &store.PositionRecord{
		Slug:        p.Slug,
		Stream:      p.Stream,
		WindowTS:    p.WindowTS,
		ConditionID: p.ConditionID,
		Question:    p.Question,
		UpToken:     p.UpToken,
		DownToken:   p.DownToken,
		NegRisk:     p.NegRisk,
		Status:      p.Status,
		EntryPrice:  p.EntryPrice,
		Size:        p.Size,
		UpOrderID:   p.UpOrderID,
		DownOrderID: p.DownOrderID,
		UpFilled:    p.UpFilled,
		DownFilled:  p.DownFilled,
		Cost:        p.Cost,
		Recovered:   p.Recovered,
		Redeemed:    p.Redeemed,
		PnL:         p.PnL,
		RedeemTxID:  p.RedeemTxID,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
}

func fromRecord(r *store.PositionRecord) *Position {
	return &Position{
		Slug:        r.Slug,
		Stream:      r.Stream,
		WindowTS:    r.WindowTS,
		ConditionID: r.ConditionID,
		Question:    r.Question,
		UpToken:     r.UpToken,
		DownToken:   r.DownToken,
		NegRisk:     r.NegRisk,
		Status:      r.Status,
		EntryPrice:  r.EntryPrice,
		Size:        r.Size,
		UpOrderID:   r.UpOrderID,
		DownOrderID: r.DownOrderID,
		UpFilled:    r.UpFilled,
		DownFilled:  r.DownFilled,
		Cost:        r.Cost,
		Recovered:   r.Recovered,
		Redeemed:    r.Redeemed,
		PnL:         r.PnL,
		RedeemTxID:  r.RedeemTxID,
		OpenedAt:    r.OpenedAt,
		ClosedAt:    r.ClosedAt,
	}
}
