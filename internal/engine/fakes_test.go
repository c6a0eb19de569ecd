package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/clob"
	"github.com/web3guy0/spreadbot/internal/market"
)

// Test doubles for the engine's venue, relayer, and resolver dependencies.

type placedOrder struct {
	TokenID string
	Price   decimal.Decimal
	Size    decimal.Decimal
	Side    string
	Expiry  time.Time
}

type fakeVenue struct {
	books     map[string]*clob.Book
	balances  map[string]decimal.Decimal
	usdc      decimal.Decimal
	orders    []clob.Order
	placed    []placedOrder
	cancelled [][]string
	sellErr   error
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		books:    make(map[string]*clob.Book),
		balances: make(map[string]decimal.Decimal),
		usdc:     decimal.NewFromInt(1000),
	}
}

func (v *fakeVenue) setBook(tokenID string, bid, ask float64) {
	v.books[tokenID] = &clob.Book{
		Bids: []clob.PriceLevel{{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromInt(100)}},
		Asks: []clob.PriceLevel{{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromInt(100)}},
	}
}

func (v *fakeVenue) PlaceLimitBuy(tokenID string, price, size decimal.Decimal, expiry time.Time) (string, error) {
	v.placed = append(v.placed, placedOrder{tokenID, price, size, clob.SideBuy, expiry})
	return fmt.Sprintf("order-%d", len(v.placed)), nil
}

func (v *fakeVenue) PlaceLimitSell(tokenID string, price, size decimal.Decimal, expiry time.Time) (string, error) {
	if v.sellErr != nil {
		return "", v.sellErr
	}
	v.placed = append(v.placed, placedOrder{tokenID, price, size, clob.SideSell, expiry})
	return fmt.Sprintf("order-%d", len(v.placed)), nil
}

func (v *fakeVenue) CancelOrders(tokenIDs ...string) error {
	v.cancelled = append(v.cancelled, tokenIDs)
	return nil
}

func (v *fakeVenue) GetOrderBook(tokenID string) (*clob.Book, error) {
	if b, ok := v.books[tokenID]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no book for %s", tokenID)
}

func (v *fakeVenue) GetOpenOrders() ([]clob.Order, error) { return v.orders, nil }

func (v *fakeVenue) GetTokenBalance(tokenID string) (decimal.Decimal, error) {
	return v.balances[tokenID], nil
}

func (v *fakeVenue) GetUSDCBalance() (decimal.Decimal, error) { return v.usdc, nil }

type fakeRelayer struct {
	submits int
	polls   int
	states  []string // consumed per TransactionState call; last repeats
}

func (r *fakeRelayer) SubmitRedeem(_ context.Context, _ string, _ bool) (string, error) {
	r.submits++
	return fmt.Sprintf("tx-%d", r.submits), nil
}

func (r *fakeRelayer) TransactionState(_ context.Context, _ string) (string, error) {
	i := r.polls
	if i >= len(r.states) {
		i = len(r.states) - 1
	}
	r.polls++
	return r.states[i], nil
}

type fakeResolver struct {
	markets map[string]*market.Market
}

func (f *fakeResolver) Resolve(_ context.Context, slug string, _ int64) (*market.Market, error) {
	if m, ok := f.markets[slug]; ok {
		return m, nil
	}
	return nil, market.ErrMarketNotFound
}

func testMarket(slug string, closed bool) *market.Market {
	m := &market.Market{
		Slug:            slug,
		ConditionID:     "0xcond",
		UpToken:         slug + "-up",
		DownToken:       slug + "-down",
		WindowTS:        1771268400,
		Closed:          closed,
		AcceptingOrders: !closed,
	}
	if closed {
		m.UpPayout = decimal.NewFromInt(1)
		m.DownPayout = decimal.Zero
	}
	return m
}

func testPosition(slug string) *Position {
	m := testMarket(slug, false)
	return NewPosition("15m", m, decimal.NewFromFloat(0.45), decimal.NewFromInt(20))
}
