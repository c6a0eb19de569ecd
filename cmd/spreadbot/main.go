// Spreadbot - dual-sided spread engine for recurring up/down windows
//
// Every window it places limit buys on BOTH outcomes below the half-dollar
// line. Both fills lock in a guaranteed $1 payout per share pair; one fill
// is watched by a stop loss that bails before resolution can hurt. No view
// on direction is ever taken.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/spreadbot/internal/bot"
	"github.com/web3guy0/spreadbot/internal/clob"
	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/engine"
	"github.com/web3guy0/spreadbot/internal/feeds"
	"github.com/web3guy0/spreadbot/internal/market"
	"github.com/web3guy0/spreadbot/internal/relay"
	"github.com/web3guy0/spreadbot/internal/store"
)

const version = "1.2.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE"
	if cfg.SimulationMode {
		mode = "SIMULATION"
	}
	timeframes := cfg.EnabledTimeframes()
	if len(timeframes) == 0 {
		log.Fatal().Msg("No timeframe streams enabled")
	}

	labels := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		labels = append(labels, tf.Label)
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Str("asset", cfg.TradingAsset).
		Strs("streams", labels).
		Msg("⚡ Spreadbot starting...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ====== CORE COMPONENTS ======

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer st.Close()

	venue, err := clob.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize CLOB client")
	}

	gamma := market.NewGammaClient(cfg.GammaURL)

	relayer := relay.NewClient(relay.Config{
		BaseURL:        cfg.RelayerURL,
		CTFAddress:     cfg.CTFAddress,
		USDCAddress:    cfg.USDCAddress,
		NegRiskAdapter: cfg.NegRiskAdapter,
		FunderAddress:  cfg.FunderAddress,
		APIKey:         cfg.BuilderAPIKey,
		Secret:         cfg.BuilderSecret,
		Passphrase:     cfg.BuilderPassphrase,
		Simulation:     cfg.SimulationMode,
	})

	feed := feeds.NewBookFeed(cfg.WSURL)
	feed.Start()
	defer feed.Stop()

	// One engine per enabled timeframe stream.
	engines := make([]*engine.Engine, 0, len(timeframes))
	controllers := make([]bot.StreamController, 0, len(timeframes))
	for _, tf := range timeframes {
		e := engine.New(cfg, tf, gamma, venue, relayer, feed, st, nil)
		engines = append(engines, e)
		controllers = append(controllers, e)
	}

	// Telegram surface is optional; the engine runs headless without it.
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, controllers, venue)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			tg.Start()
			defer tg.Stop()
			for _, e := range engines {
				e.SetNotifier(tg)
			}
			tg.Notify("🚀 Spreadbot " + version + " started (" + mode + ")")
		}
	}

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("stream", e.Stream()).Msg("❌ Stream exited")
				cancel()
			}
		}(e)
	}

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down...")
	wg.Wait()
	log.Info().Msg("👋 Spreadbot stopped")
}
