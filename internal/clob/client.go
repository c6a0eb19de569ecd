// Package clob wraps the venue's central limit order book API: order
// placement and cancellation, book snapshots, and balance queries. A
// simulation mode answers every call locally so the engine can run end to
// end without credentials or network access.
package clob

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/config"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER BOOK CLIENT
// ═══════════════════════════════════════════════════════════════════════════════

// Side of an order.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Client talks to the CLOB API. All mutating calls are no-network no-ops in
// simulation mode and return synthetic ids.
type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	apiKey     string
	apiSecret  string
	passphrase string
	funder     string
	simulation bool
	httpClient *http.Client
}

// Order is an open order as reported by the API.
type Order struct {
	ID        string          `json:"id"`
	TokenID   string          `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"original_size"`
	Filled    decimal.Decimal `json:"size_matched"`
	Side      string          `json:"side"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// PriceLevel is one level of the book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is a snapshot of one token's order book, best price first on both
// sides.
type Book struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the highest bid, or zero when the side is empty.
func (b *Book) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero when the side is empty.
func (b *Book) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// NewClient builds a CLOB client from configuration. Outside simulation mode
// the wallet key must parse; the address derived from it is the maker
// identity on every order.
func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{
		baseURL:    cfg.CLOBURL,
		apiKey:     cfg.CLOBApiKey,
		apiSecret:  cfg.CLOBApiSecret,
		passphrase: cfg.CLOBPassphrase,
		funder:     cfg.FunderAddress,
		simulation: cfg.SimulationMode,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.WalletPrivateKey != "" {
		pk, err := crypto.HexToECDSA(cfg.WalletPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	mode := "LIVE"
	if c.simulation {
		mode = "SIMULATION"
	}
	log.Info().
		Str("mode", mode).
		Str("address", c.address).
		Msg("🚀 CLOB client initialized")

	return c, nil
}

// Address returns the maker address, empty in key-less simulation.
func (c *Client) Address() string { return c.address }

// IsSimulation reports whether the client is running without the venue.
func (c *Client) IsSimulation() bool { return c.simulation }

// PlaceLimitBuy places a GTD limit buy for size shares of tokenID at price.
// The order expires at the given time so stale orders from a crashed run
// cannot outlive the window they were meant for.
func (c *Client) PlaceLimitBuy(tokenID string, price, size decimal.Decimal, expiresAt time.Time) (string, error) {
	return c.placeOrder(tokenID, price, size, SideBuy, expiresAt)
}

// PlaceLimitSell places a GTD limit sell, used by the bail-out path.
func (c *Client) PlaceLimitSell(tokenID string, price, size decimal.Decimal, expiresAt time.Time) (string, error) {
	return c.placeOrder(tokenID, price, size, SideSell, expiresAt)
}

func (c *Client) placeOrder(tokenID string, price, size decimal.Decimal, side string, expiresAt time.Time) (string, error) {
	if c.simulation {
		orderID := "sim_" + uuid.NewString()
		log.Info().
			Str("order_id", orderID).
			Str("token", shortToken(tokenID)).
			Str("side", side).
			Str("price", price.StringFixed(2)).
			Str("size", size.StringFixed(2)).
			Msg("📝 SIMULATION: order placed")
		return orderID, nil
	}

	order := map[string]interface{}{
		"tokenID":       tokenID,
		"price":         price.String(),
		"size":          size.String(),
		"side":          side,
		"orderType":     "GTD",
		"expiration":    expiresAt.Unix(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"maker":         c.address,
		"funder":        c.funder,
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return "", fmt.Errorf("signing failed: %w", err)
	}
	order["signature"] = signature

	resp, err := c.post("/order", order)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("API error: %s", result.Error)
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("side", side).
		Str("price", price.StringFixed(2)).
		Str("size", size.StringFixed(2)).
		Msg("✅ Order placed")

	return result.OrderID, nil
}

// CancelOrders cancels every live order whose asset belongs to tokenIDs.
// Orders the venue already closed are skipped silently; cancellation is
// idempotent from the caller's point of view.
func (c *Client) CancelOrders(tokenIDs ...string) error {
	if c.simulation {
		log.Info().Int("tokens", len(tokenIDs)).Msg("📝 SIMULATION: orders cancelled")
		return nil
	}

	want := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		want[id] = true
	}

	orders, err := c.GetOpenOrders()
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	var failed int
	for _, o := range orders {
		if !want[o.TokenID] {
			continue
		}
		if _, err := c.delete("/order/" + o.ID); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("⚠️ Cancel failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to cancel %d order(s)", failed)
	}
	return nil
}

// GetOpenOrders returns all live orders for the account.
func (c *Client) GetOpenOrders() ([]Order, error) {
	if c.simulation {
		return nil, nil
	}

	resp, err := c.get("/orders?status=live")
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// bookLevel is the wire shape of a book level, prices and sizes as strings.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// GetOrderBook returns the current book for a token, best price first.
func (c *Client) GetOrderBook(tokenID string) (*Book, error) {
	if c.simulation {
		// A calm mid-market book keeps the simulated stop-loss quiet.
		return &Book{
			Bids: []PriceLevel{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(1000)}},
			Asks: []PriceLevel{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(1000)}},
		}, nil
	}

	resp, err := c.get("/book?token_id=" + url.QueryEscape(tokenID))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Bids []bookLevel `json:"bids"`
		Asks []bookLevel `json:"asks"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}

	book := &Book{}
	// The venue sends bids ascending and asks descending; best price last.
	for i := len(raw.Bids) - 1; i >= 0; i-- {
		book.Bids = append(book.Bids, parseLevel(raw.Bids[i]))
	}
	for i := len(raw.Asks) - 1; i >= 0; i-- {
		book.Asks = append(book.Asks, parseLevel(raw.Asks[i]))
	}
	return book, nil
}

func parseLevel(l bookLevel) PriceLevel {
	price, _ := decimal.NewFromString(l.Price)
	size, _ := decimal.NewFromString(l.Size)
	return PriceLevel{Price: price, Size: size}
}

// GetTokenBalance returns how many shares of an outcome token the account
// holds.
func (c *Client) GetTokenBalance(tokenID string) (decimal.Decimal, error) {
	if c.simulation {
		return decimal.Zero, nil
	}

	resp, err := c.get("/balance-allowance?asset_type=CONDITIONAL&token_id=" + url.QueryEscape(tokenID))
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balance %q: %w", result.Balance, err)
	}
	// Conditional token balances arrive in 6-decimal base units.
	return balance.Shift(-6), nil
}

// GetUSDCBalance returns the account's collateral balance in USDC.
func (c *Client) GetUSDCBalance() (decimal.Decimal, error) {
	if c.simulation {
		return decimal.NewFromInt(1000), nil
	}

	resp, err := c.get("/balance-allowance?asset_type=COLLATERAL")
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balance %q: %w", result.Balance, err)
	}
	return balance.Shift(-6), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) delete(path string) ([]byte, error) {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	hash := crypto.Keccak256([]byte(message + c.apiSecret))
	return hexutil.Encode(hash)
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 16 {
		return tokenID
	}
	return tokenID[:16] + "..."
}
