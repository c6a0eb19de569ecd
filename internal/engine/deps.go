package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/clob"
	"github.com/web3guy0/spreadbot/internal/feeds"
	"github.com/web3guy0/spreadbot/internal/market"
)

// Venue is the slice of the CLOB client the engine uses.
type Venue interface {
	PlaceLimitBuy(tokenID string, price, size decimal.Decimal, expiresAt time.Time) (string, error)
	PlaceLimitSell(tokenID string, price, size decimal.Decimal, expiresAt time.Time) (string, error)
	CancelOrders(tokenIDs ...string) error
	GetOrderBook(tokenID string) (*clob.Book, error)
	GetOpenOrders() ([]clob.Order, error)
	GetTokenBalance(tokenID string) (decimal.Decimal, error)
	GetUSDCBalance() (decimal.Decimal, error)
}

// Relayer submits gasless transactions and reports their state.
type Relayer interface {
	SubmitRedeem(ctx context.Context, conditionID string, negRisk bool) (string, error)
	TransactionState(ctx context.Context, txID string) (string, error)
}

// Resolver turns a window slug into a tradable market.
type Resolver interface {
	Resolve(ctx context.Context, slug string, windowTS int64) (*market.Market, error)
}

// Quoter serves cached top-of-book quotes. May be absent; callers fall back
// to the REST book.
type Quoter interface {
	TopOfBook(tokenID string) (feeds.Quote, bool)
}

// Notifier pushes operator-facing alerts. May be absent.
type Notifier interface {
	Notify(text string)
}
