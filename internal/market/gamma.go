package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrMarketNotFound is returned by Resolve when the venue has not listed a
// market for the requested window yet. Callers treat it as "try again next
// tick", not as a failure.
var ErrMarketNotFound = errors.New("market not found")

// Market is the resolved view of one up/down window market.
type Market struct {
	Slug            string
	Question        string
	ConditionID     string
	UpToken         string // outcome token id for "Up"
	DownToken       string // outcome token id for "Down"
	WindowTS        int64
	Closed          bool // venue has resolved the market
	NegRisk         bool // settles through the neg-risk adapter
	AcceptingOrders bool
	// Per-share payout values. On a resolved market these are 1 and 0; while
	// trading they are the venue's last quoted outcome prices.
	UpPayout   decimal.Decimal
	DownPayout decimal.Decimal
}

// GammaClient resolves window slugs against the Gamma markets API.
type GammaClient struct {
	http *resty.Client
}

// NewGammaClient builds a client for the given Gamma base URL.
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
}

// gammaMarket mirrors the wire shape of /markets. Token ids and outcome names
// arrive as JSON-encoded strings inside the JSON document.
type gammaMarket struct {
	Slug            string `json:"slug"`
	Question        string `json:"question"`
	ConditionID     string `json:"conditionId"`
	ClobTokenIDs    string `json:"clobTokenIds"`
	Outcomes        string `json:"outcomes"`
	OutcomePrices   string `json:"outcomePrices"`
	Closed          bool   `json:"closed"`
	NegRisk         bool   `json:"negRisk"`
	AcceptingOrders bool   `json:"acceptingOrders"`
}

// Resolve looks up the market listed under slug. Returns ErrMarketNotFound
// when the venue has no such market (windows are typically listed a few
// minutes before they open).
func (g *GammaClient) Resolve(ctx context.Context, slug string, windowTS int64) (*Market, error) {
	var markets []gammaMarket
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("gamma lookup %s: %w", slug, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gamma lookup %s: status %d", slug, resp.StatusCode())
	}
	if len(markets) == 0 {
		return nil, ErrMarketNotFound
	}

	gm := markets[0]
	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("gamma %s: bad clobTokenIds: %w", slug, err)
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return nil, fmt.Errorf("gamma %s: bad outcomes: %w", slug, err)
	}
	if len(tokenIDs) != 2 || len(outcomes) != 2 {
		return nil, fmt.Errorf("gamma %s: expected 2 outcomes, got %d", slug, len(tokenIDs))
	}

	m := &Market{
		Slug:            gm.Slug,
		Question:        gm.Question,
		ConditionID:     gm.ConditionID,
		WindowTS:        windowTS,
		Closed:          gm.Closed,
		NegRisk:         gm.NegRisk,
		AcceptingOrders: gm.AcceptingOrders,
	}
	var prices []string
	if gm.OutcomePrices != "" {
		// Best effort; missing prices just leave the payouts at zero.
		_ = json.Unmarshal([]byte(gm.OutcomePrices), &prices)
	}
	priceAt := func(i int) decimal.Decimal {
		if i < len(prices) {
			if d, err := decimal.NewFromString(prices[i]); err == nil {
				return d
			}
		}
		return decimal.Zero
	}

	// Outcome order is not guaranteed on the wire; map by name.
	if outcomes[0] == "Up" {
		m.UpToken, m.DownToken = tokenIDs[0], tokenIDs[1]
		m.UpPayout, m.DownPayout = priceAt(0), priceAt(1)
	} else {
		m.UpToken, m.DownToken = tokenIDs[1], tokenIDs[0]
		m.UpPayout, m.DownPayout = priceAt(1), priceAt(0)
	}

	log.Debug().
		Str("slug", m.Slug).
		Str("condition", m.ConditionID).
		Bool("closed", m.Closed).
		Bool("neg_risk", m.NegRisk).
		Msg("🔍 Resolved market")

	return m, nil
}
