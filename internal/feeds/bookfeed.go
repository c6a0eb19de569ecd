// Package feeds maintains a live best bid/ask cache over the venue's market
// websocket so hot paths avoid a REST book call per position per tick.
package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER BOOK FEED
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
	// Quotes older than this are treated as missing so callers fall back to
	// the REST book rather than act on a dead cache.
	quoteMaxAge = 30 * time.Second
)

// Quote is the cached top of book for one token.
type Quote struct {
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	UpdatedAt time.Time
}

// BookFeed maintains a websocket connection and the latest top of book for
// every watched token. Watch and Unwatch may be called at any time; the set
// is re-subscribed after every reconnect.
type BookFeed struct {
	mu sync.RWMutex
	// The connection allows one concurrent writer; pings and subscriptions
	// both go through writeMu.
	writeMu sync.Mutex

	wsURL      string
	conn       *websocket.Conn
	running    bool
	stopCh     chan struct{}
	retryDelay time.Duration

	watched map[string]bool  // token id -> subscribed
	quotes  map[string]Quote // token id -> latest top of book
}

// NewBookFeed creates a feed for the given websocket endpoint.
func NewBookFeed(wsURL string) *BookFeed {
	return &BookFeed{
		wsURL:      wsURL,
		stopCh:     make(chan struct{}),
		retryDelay: reconnectDelay,
		watched:    make(map[string]bool),
		quotes:     make(map[string]Quote),
	}
}

// Start connects and begins processing in the background.
func (f *BookFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Msg("📡 Book feed started")
}

// Stop closes the connection and halts the loops.
func (f *BookFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Book feed stopped")
}

// Watch adds tokens to the subscription set.
func (f *BookFeed) Watch(tokenIDs ...string) {
	f.mu.Lock()
	conn := f.conn
	var added []string
	for _, id := range tokenIDs {
		if !f.watched[id] {
			f.watched[id] = true
			added = append(added, id)
		}
	}
	f.mu.Unlock()

	if conn != nil && len(added) > 0 {
		f.sendSubscribe(conn, added)
	}
}

// Unwatch drops tokens from the subscription set and evicts their quotes.
// Finished markets stop occupying the cache.
func (f *BookFeed) Unwatch(tokenIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tokenIDs {
		delete(f.watched, id)
		delete(f.quotes, id)
	}
}

// TopOfBook returns the cached quote for a token. ok is false when the token
// is not cached or the quote has gone stale.
func (f *BookFeed) TopOfBook(tokenID string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, exists := f.quotes[tokenID]
	if !exists || time.Since(q.UpdatedAt) > quoteMaxAge {
		return Quote{}, false
	}
	return q, true
}

func (f *BookFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		conn, err := f.dial()
		if err != nil {
			log.Error().Err(err).Msg("Book feed connect failed, retrying...")
			time.Sleep(f.retryDelay)
			continue
		}

		// The ping loop lives exactly as long as this connection.
		done := make(chan struct{})
		go f.pingLoop(conn, done)
		f.readLoop(conn)
		close(done)

		time.Sleep(f.retryDelay)
	}
}

func (f *BookFeed) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.conn = conn
	watched := make([]string, 0, len(f.watched))
	for id := range f.watched {
		watched = append(watched, id)
	}
	f.mu.Unlock()

	log.Info().Int("tokens", len(watched)).Msg("🔌 Book feed connected")

	if len(watched) > 0 {
		f.sendSubscribe(conn, watched)
	}
	return conn, nil
}

func (f *BookFeed) sendSubscribe(conn *websocket.Conn, tokenIDs []string) {
	msg := map[string]interface{}{
		"type":       "subscribe",
		"channel":    "market",
		"assets_ids": tokenIDs,
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Msg("⚠️ Book feed subscribe failed")
	}
}

func (f *BookFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
		}
	}
}

func (f *BookFeed) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Book feed read error")
			return
		}

		f.processMessage(message)
	}
}

type wsMessage struct {
	EventType string          `json:"event_type"`
	Asset     string          `json:"asset_id"`
	Bids      [][]interface{} `json:"bids"`
	Asks      [][]interface{} `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

func (f *BookFeed) processMessage(data []byte) {
	var msgs []wsMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []wsMessage{msg}
	}

	for _, msg := range msgs {
		switch msg.EventType {
		case "book":
			f.handleBookSnapshot(msg)
		case "price_change":
			f.handlePriceChange(msg)
		}
	}
}

// handleBookSnapshot derives top of book from a full snapshot. Levels arrive
// best price last on both sides.
func (f *BookFeed) handleBookSnapshot(msg wsMessage) {
	q := Quote{UpdatedAt: time.Now()}
	if p, ok := lastLevelPrice(msg.Bids); ok {
		q.BestBid = p
	}
	if p, ok := lastLevelPrice(msg.Asks); ok {
		q.BestAsk = p
	}
	f.setQuote(msg.Asset, q)
}

// handlePriceChange applies the venue's incremental update, which carries the
// recomputed best prices alongside the level deltas.
func (f *BookFeed) handlePriceChange(msg wsMessage) {
	if msg.BestBid == "" && msg.BestAsk == "" {
		return
	}

	f.mu.RLock()
	q := f.quotes[msg.Asset]
	f.mu.RUnlock()

	if bid, err := decimal.NewFromString(msg.BestBid); err == nil {
		q.BestBid = bid
	}
	if ask, err := decimal.NewFromString(msg.BestAsk); err == nil {
		q.BestAsk = ask
	}
	q.UpdatedAt = time.Now()
	f.setQuote(msg.Asset, q)
}

func (f *BookFeed) setQuote(tokenID string, q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.watched[tokenID] {
		return
	}
	f.quotes[tokenID] = q
}

func lastLevelPrice(levels [][]interface{}) (decimal.Decimal, bool) {
	for i := len(levels) - 1; i >= 0; i-- {
		if len(levels[i]) == 0 {
			continue
		}
		if s, ok := levels[i][0].(string); ok {
			if p, err := decimal.NewFromString(s); err == nil {
				return p, true
			}
		}
	}
	return decimal.Zero, false
}
