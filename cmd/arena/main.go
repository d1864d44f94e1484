// Arena - LLM trading competition engine
//
// Runs several language models against identical paper accounts on live
// crypto market data. Each round every model sees the same candles and
// indicators, returns JSON trading decisions, and has them settled through
// its own deterministic paper ledger. Standings go to the log, optional
// Telegram chat, Prometheus and data/results.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/bot"
	"llm-trading-arena/core"
	"llm-trading-arena/feeds"
	"llm-trading-arena/internal/config"
	"llm-trading-arena/metrics"
	"llm-trading-arena/models"
	"llm-trading-arena/storage"
)

const version = "1.0.0"

// testRounds caps a -test session.
const testRounds = 5

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	durationMin := flag.Int("duration", 0, "session length in minutes (0 = unbounded)")
	maxRounds := flag.Int("rounds", 0, "maximum rounds (0 = unbounded)")
	testMode := flag.Bool("test", false, "short test session (5 rounds)")
	flag.Parse()

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	opts := core.RunOptions{
		Duration:  time.Duration(*durationMin) * time.Minute,
		MaxRounds: *maxRounds,
	}
	if *testMode {
		opts.MaxRounds = testRounds
	}

	// Build adapters from the enabled provider blocks
	enabled := cfg.EnabledModels()
	adapters := make([]models.Adapter, 0, len(enabled))
	for name, mc := range enabled {
		if mc.Provider == "mock" {
			adapters = append(adapters, models.NewMockAdapter(name))
			continue
		}
		adapters = append(adapters, models.NewLLMAdapter(name, mc))
	}
	if len(adapters) == 0 {
		log.Fatal().Msg("No models enabled - set at least one provider API key or MOCK_ENABLED=true")
	}

	log.Info().
		Str("version", version).
		Str("mode", cfg.TradingMode).
		Int("models", len(adapters)).
		Strs("symbols", cfg.Symbols).
		Dur("interval", cfg.DecisionInterval).
		Msg("⚡ Arena starting...")

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Persistence (optional)
	db, err := storage.New(cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Market data
	market := feeds.NewMarketData(feeds.NewBinance(cfg.ExchangeBaseURL), cfg.MaxRequestsPerMinute, cfg.CacheTTL)

	// Competition
	runtimes := core.BuildRuntimes(cfg, adapters)
	scheduler := core.NewScheduler(cfg, market, runtimes, db)
	scheduler.AddObserver(core.NewLogObserver())

	// Telegram (optional)
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			tg.SetControlCallbacks(scheduler.Pause, scheduler.Resume, scheduler.State)
			tg.Start()
			defer tg.Stop()
			scheduler.AddObserver(tg)
		}
	}

	// Metrics (optional)
	metrics.Serve(cfg.MetricsAddr)

	if err := scheduler.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize arena")
	}

	log.Info().Msg("✅ All systems online")
	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msg("║        LLM TRADING ARENA ACTIVE          ║")
	log.Info().Msg("║                                          ║")
	log.Info().Msg("║  Same data, same capital, every model    ║")
	log.Info().Msg("║  → Fetch candles + indicators            ║")
	log.Info().Msg("║  → Collect decisions in parallel         ║")
	log.Info().Msg("║  → Settle through paper ledgers          ║")
	log.Info().Msg("╚══════════════════════════════════════════╝")
	log.Info().Msg("")

	if err := scheduler.Run(ctx, opts); err != nil {
		log.Error().Err(err).Msg("Arena run failed")
		os.Exit(1)
	}

	log.Info().Msg("👋 Goodbye!")
}
