// Package bot is the Telegram operator surface: alerts out, a handful of
// commands in. It only reads engine state through snapshots and control
// methods; it never touches positions or orders directly.
package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/internal/engine"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM CONTROL SURFACE
// ═══════════════════════════════════════════════════════════════════════════════

// StreamController is the slice of an engine the bot drives. One per
// configured timeframe stream.
type StreamController interface {
	Stream() string
	Paused() bool
	Pause()
	Resume()
	ResetBreaker()
	Positions() []engine.Position
	RiskState() engine.RiskSnapshot
	Stats() engine.PerfSnapshot
}

// BalanceSource reports the account's collateral balance.
type BalanceSource interface {
	GetUSDCBalance() (decimal.Decimal, error)
}

// TelegramBot listens for operator commands and pushes alerts.
type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	streams []StreamController
	balance BalanceSource
}

// NewTelegramBot builds the bot for the given token and authorized chat.
func NewTelegramBot(token string, chatID int64, streams []StreamController, balance BalanceSource) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:     api,
		chatID:  chatID,
		stopCh:  make(chan struct{}),
		streams: streams,
		balance: balance,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the command loop.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// Notify pushes a plain-text alert to the authorized chat. Satisfies the
// engine's notifier hook.
func (b *TelegramBot) Notify(text string) {
	b.send(text)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "positions":
		b.cmdPositions()
	case "stats":
		b.cmdStats()
	case "pause":
		b.forEach(func(s StreamController) { s.Pause() })
		b.send("⏸️ Entries paused on all streams")
	case "resume":
		b.forEach(func(s StreamController) { s.Resume() })
		b.send("▶️ Entries resumed on all streams")
	case "resetbreaker":
		b.forEach(func(s StreamController) { s.ResetBreaker() })
		b.send("🔄 Circuit breakers reset")
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *SPREADBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Stream status and risk state
💼 /positions — Tracked positions
📈 /stats — Performance per stream
⏸️ /pause — Pause new entries
▶️ /resume — Resume entries
🔄 /resetbreaker — Clear tripped circuit breakers
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	var sb strings.Builder
	sb.WriteString("📊 *STATUS*\n━━━━━━━━━━━━━━━━━━━━\n")

	if b.balance != nil {
		if bal, err := b.balance.GetUSDCBalance(); err == nil {
			sb.WriteString(fmt.Sprintf("💰 Balance: *$%s*\n\n", bal.StringFixed(2)))
		}
	}

	for _, s := range b.streams {
		risk := s.RiskState()
		state := "🟢 trading"
		if s.Paused() {
			state = "⏸️ paused"
		}
		if risk.CircuitBreakerOn {
			state = "🚨 breaker: " + risk.BreakerReason
		}
		sb.WriteString(fmt.Sprintf("*%s* — %s\n", s.Stream(), state))
		sb.WriteString(fmt.Sprintf("  daily loss %s/%s, streak %d/%d\n",
			risk.DailyLoss.StringFixed(2), risk.MaxDailyLoss.StringFixed(2),
			risk.ConsecutiveLosses, risk.MaxConsecutive))
	}

	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdPositions() {
	var sb strings.Builder
	sb.WriteString("💼 *POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n")

	total := 0
	for _, s := range b.streams {
		for _, p := range s.Positions() {
			total++
			sb.WriteString(fmt.Sprintf("`%s`\n  %s | up %s / down %s @ %s\n",
				p.Slug, p.Status,
				p.UpFilled.StringFixed(1), p.DownFilled.StringFixed(1),
				p.EntryPrice.StringFixed(2)))
		}
	}
	if total == 0 {
		sb.WriteString("none\n")
	}

	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdStats() {
	var sb strings.Builder
	sb.WriteString("📈 *PERFORMANCE*\n━━━━━━━━━━━━━━━━━━━━\n")

	for _, s := range b.streams {
		st := s.Stats()
		sb.WriteString(fmt.Sprintf(`*%s*
  rounds %d (✅%d ❌%d ➖%d, 🚨%d bailed)
  win rate %s%% | fill rate %s%%
  net P&L *$%s* (fees $%s)
`,
			st.Stream,
			st.Rounds, st.Wins, st.Losses, st.Flats, st.Bailouts,
			st.WinRate.StringFixed(1), st.FillRate.StringFixed(1),
			st.NetPnL.StringFixed(2), st.FeesPaid.StringFixed(2)))
	}

	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) forEach(fn func(StreamController)) {
	for _, s := range b.streams {
		fn(s)
	}
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram send failed")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram send failed")
	}
}
