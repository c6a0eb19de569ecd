package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gammaServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestResolveMapsOutcomesByName(t *testing.T) {
	// Down listed first: token order must follow outcome names, not index.
	srv := gammaServer(t, `[{
		"slug": "btc-updown-15m-1771268400",
		"question": "Bitcoin Up or Down?",
		"conditionId": "0xcond",
		"clobTokenIds": "[\"111\",\"222\"]",
		"outcomes": "[\"Down\",\"Up\"]",
		"outcomePrices": "[\"0.55\",\"0.45\"]",
		"closed": false,
		"negRisk": true,
		"acceptingOrders": true
	}]`)
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	m, err := g.Resolve(context.Background(), "btc-updown-15m-1771268400", 1771268400)
	require.NoError(t, err)

	assert.Equal(t, "222", m.UpToken)
	assert.Equal(t, "111", m.DownToken)
	assert.True(t, m.UpPayout.Equal(decimal.NewFromFloat(0.45)))
	assert.True(t, m.DownPayout.Equal(decimal.NewFromFloat(0.55)))
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, int64(1771268400), m.WindowTS)
	assert.True(t, m.NegRisk)
	assert.False(t, m.Closed)
	assert.True(t, m.AcceptingOrders)
}

func TestResolveUnlistedReturnsNotFound(t *testing.T) {
	srv := gammaServer(t, `[]`)
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.Resolve(context.Background(), "btc-updown-15m-9999999999", 9999999999)
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestResolveRejectsMalformedTokenList(t *testing.T) {
	srv := gammaServer(t, `[{
		"slug": "btc-updown-15m-1771268400",
		"conditionId": "0xcond",
		"clobTokenIds": "[\"only-one\"]",
		"outcomes": "[\"Up\",\"Down\"]"
	}]`)
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.Resolve(context.Background(), "btc-updown-15m-1771268400", 1771268400)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 outcomes")
}

func TestResolveResolvedMarketCarriesPayouts(t *testing.T) {
	srv := gammaServer(t, `[{
		"slug": "btc-updown-15m-1771268400",
		"conditionId": "0xcond",
		"clobTokenIds": "[\"111\",\"222\"]",
		"outcomes": "[\"Up\",\"Down\"]",
		"outcomePrices": "[\"1\",\"0\"]",
		"closed": true
	}]`)
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	m, err := g.Resolve(context.Background(), "btc-updown-15m-1771268400", 1771268400)
	require.NoError(t, err)

	assert.True(t, m.Closed)
	assert.True(t, m.UpPayout.Equal(decimal.NewFromInt(1)))
	assert.True(t, m.DownPayout.IsZero())
}
