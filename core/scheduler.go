package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"llm-trading-arena/feeds"
	"llm-trading-arena/internal/config"
	"llm-trading-arena/ledger"
	"llm-trading-arena/metrics"
	"llm-trading-arena/models"
	"llm-trading-arena/storage"
	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER - Competition lifecycle and round loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per round:
//   Market snapshot → Broker fan-out → Validate → Ledger execute → Record
//
// Lifecycle: created → ready → running ⇄ paused → stopped. Cleanup (results
// export, connection close) runs exactly once on every exit path.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Scheduler states
const (
	StateCreated = "created"
	StateReady   = "ready"
	StateRunning = "running"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// RunOptions bound one competition session.
type RunOptions struct {
	Duration  time.Duration // 0 = unbounded
	MaxRounds int           // 0 = unbounded
}

// Scheduler drives the competition.
type Scheduler struct {
	mu sync.Mutex

	cfg      *config.Config
	market   *feeds.MarketData
	runtimes []*ModelRuntime
	broker   *Broker
	db       *storage.Database
	results  *storage.ResultsWriter

	observers []Observer
	logger    zerolog.Logger

	state        string
	paused       bool
	resumeCh     chan struct{}
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupOnce  sync.Once
	round        int
	roundLog     []types.RoundRecord
	startedAt    time.Time
	tradingDay   string
	lastPrices   map[string]float64
	loggedTrades map[string]int

	now func() time.Time
}

// NewScheduler assembles the competition
func NewScheduler(cfg *config.Config, market *feeds.MarketData, runtimes []*ModelRuntime, db *storage.Database) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		market:       market,
		runtimes:     runtimes,
		broker:       NewBroker(),
		db:           db,
		logger:       log.With().Str("component", "scheduler").Logger(),
		state:        StateCreated,
		stopCh:       make(chan struct{}),
		lastPrices:   make(map[string]float64),
		loggedTrades: make(map[string]int),
		now:          time.Now,
	}
}

// AddObserver attaches a lifecycle sink. Call before Run.
func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// State returns the current lifecycle state.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoundLog returns a copy of the completed round records.
func (s *Scheduler) RoundLog() []types.RoundRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RoundRecord, len(s.roundLog))
	copy(out, s.roundLog)
	return out
}

// Initialize probes market data connectivity and opens the session. The
// probe warms the cache for the first symbol, so a dead venue fails here
// instead of half way into round one.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return fmt.Errorf("initialize from state %s", s.state)
	}
	s.mu.Unlock()

	if len(s.runtimes) == 0 {
		return fmt.Errorf("no models enabled")
	}

	probe := s.cfg.Symbols[0]
	if _, err := s.market.FetchSingle(ctx, probe, s.cfg.PrimaryTimeframe, s.cfg.Lookback); err != nil {
		return fmt.Errorf("market data probe %s: %w", probe, err)
	}

	s.mu.Lock()
	s.startedAt = s.now()
	s.results = storage.NewResultsWriter(s.cfg.ResultsDir, s.startedAt)
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info().
		Str("session", s.results.SessionID()).
		Int("models", len(s.runtimes)).
		Strs("symbols", s.cfg.Symbols).
		Msg("⚡ Arena initialized")
	return nil
}

// Run executes rounds until ctx is cancelled, Stop is called, or the
// duration/round bound is hit. Always exports results before returning.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return fmt.Errorf("run from state %s", s.state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	defer s.cleanup()

	modelIDs := make([]string, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		modelIDs = append(modelIDs, rt.ID())
	}
	for _, o := range s.observers {
		o.SessionStarted(s.results.SessionID(), s.cfg.Symbols, modelIDs)
	}

	var deadline time.Time
	if opts.Duration > 0 {
		deadline = s.startedAt.Add(opts.Duration)
	}

	for {
		if opts.MaxRounds > 0 && s.round >= opts.MaxRounds {
			s.logger.Info().Int("rounds", s.round).Msg("Round limit reached")
			return nil
		}
		if !deadline.IsZero() && !s.now().Before(deadline) {
			s.logger.Info().Dur("duration", opts.Duration).Msg("Session duration reached")
			return nil
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Shutdown requested")
			return nil
		case <-s.stopCh:
			return nil
		default:
		}

		if err := s.waitWhilePaused(ctx); err != nil {
			return nil
		}

		s.runRound(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Shutdown requested")
			return nil
		case <-s.stopCh:
			return nil
		case <-time.After(s.cfg.DecisionInterval):
		}
	}
}

// Stop ends the session from outside the run loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Pause suspends the round loop after the in-flight round finishes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.state != StateRunning {
		return
	}
	s.paused = true
	s.resumeCh = make(chan struct{})
	s.state = StatePaused
	s.logger.Info().Msg("⏸️ Paused")
}

// Resume releases a paused loop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.state = StateRunning
	close(s.resumeCh)
	s.logger.Info().Msg("▶️ Resumed")
}

func (s *Scheduler) waitWhilePaused(ctx context.Context) error {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	ch := s.resumeCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return fmt.Errorf("stopped while paused")
	}
}

// runRound executes one full decision round. Failures inside a round are
// recorded and never abort the session.
func (s *Scheduler) runRound(ctx context.Context) {
	start := s.now()
	s.rolloverDay(start)

	s.mu.Lock()
	s.round++
	round := s.round
	s.mu.Unlock()

	for _, o := range s.observers {
		o.RoundStarted(round)
	}
	roundCtx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
	defer cancel()

	rec := types.RoundRecord{
		Round:     round,
		Timestamp: start,
		Models:    make(map[string]*types.ModelRoundStats),
		Prices:    make(map[string]float64),
	}

	data, failures := s.market.FetchMulti(roundCtx, s.cfg.Symbols, s.cfg.Timeframes, s.cfg.Lookback)
	for symbol, err := range failures {
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", symbol, err))
	}

	if len(data) == 0 {
		err := fmt.Errorf("no market data for any symbol")
		rec.Errors = append(rec.Errors, err.Error())
		rec.Leaderboard = BuildLeaderboard(s.runtimes, s.lastPricesCopy())
		rec.DurationMS = s.now().Sub(start).Milliseconds()
		s.finishRound(rec)
		for _, o := range s.observers {
			o.SessionError(round, err)
		}
		return
	}

	symbols := make([]string, 0, len(data))
	for symbol := range data {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	rec.Symbols = symbols

	snapshots := make(map[string]*types.SymbolSnapshot, len(symbols))
	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		snap := feeds.BuildSnapshot(symbol, data[symbol], s.cfg.PrimaryTimeframe)
		snapshots[symbol] = snap
		prices[symbol] = snap.LatestPrice
		rec.Prices[symbol] = snap.LatestPrice
	}
	s.rememberPrices(prices)

	payload := types.RoundPayload{
		Round:          round,
		CurrentTime:    start,
		MinutesElapsed: start.Sub(s.startedAt).Minutes(),
		Symbols:        symbols,
		Market:         snapshots,
	}

	bundles := s.broker.Collect(roundCtx, s.runtimes, payload, prices)

	for _, rt := range s.runtimes {
		stats := &types.ModelRoundStats{Actions: make(map[string]int)}
		rec.Models[rt.ID()] = stats

		bundle := bundles[rt.ID()]
		if bundle == nil {
			continue
		}
		stats.Decisions = len(bundle.Decisions)
		for _, d := range bundle.Decisions {
			stats.Actions[d.Action]++
			metrics.IncDecision(rt.ID(), d.Action)
			s.applyDecision(rt, d, prices, &rec, stats)
		}
		s.persistNewTrades(rt)
		metrics.SetModelEquity(rt.ID(), rt.Ledger.State(prices).TotalValue)
	}

	rec.Leaderboard = BuildLeaderboard(s.runtimes, prices)
	rec.DurationMS = s.now().Sub(start).Milliseconds()

	metrics.IncRound()
	metrics.ObserveRoundDuration(float64(rec.DurationMS) / 1000)

	s.finishRound(rec)
	s.db.LogRound(s.results.SessionID(), rec)
	for _, o := range s.observers {
		o.RoundCompleted(rec)
	}
}

// applyDecision turns one validated decision into a ledger order. The BUY
// notional is capped at MaxBuyFraction of cash and sized against the
// slippage-adjusted fill price so the cap is spent exactly.
func (s *Scheduler) applyDecision(rt *ModelRuntime, d types.Decision, prices map[string]float64, rec *types.RoundRecord, stats *types.ModelRoundStats) {
	if d.Action == types.ActionHold {
		return
	}
	price, ok := prices[d.Symbol]
	if !ok || price <= 0 {
		s.logger.Warn().Str("model", rt.ID()).Str("symbol", d.Symbol).Msg("No price for decision symbol")
		return
	}
	priceDec := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)

	var size decimal.Decimal
	switch d.Action {
	case types.ActionBuy:
		frac := decimal.NewFromFloat(d.PositionSize)
		if frac.GreaterThan(s.cfg.MaxBuyFraction) {
			frac = s.cfg.MaxBuyFraction
		}
		notional := rt.Ledger.Cash().Mul(frac)
		fillPrice := priceDec.Mul(one.Add(s.cfg.Slippage))
		if fillPrice.IsZero() {
			return
		}
		size = notional.Div(fillPrice)

	case types.ActionSell:
		pos, held := rt.Ledger.Position(d.Symbol)
		if !held {
			s.logger.Warn().Str("model", rt.ID()).Str("symbol", d.Symbol).Msg("Cannot sell: no position")
			rec.Errors = append(rec.Errors, fmt.Sprintf("%s %s: cannot sell, no position", rt.ID(), d.Symbol))
			return
		}
		size = pos.Size.Mul(decimal.NewFromFloat(d.PositionSize))
	}

	// Zero-size orders fall through: the ledger rejects them as invalid and
	// the attempt is recorded like any other rejection.
	order, err := rt.Ledger.Execute(d.Symbol, d.Action, size, priceDec)
	if err != nil {
		stats.Rejected++
		if order.ID != "" {
			// Breaker rejections carry no order row.
			metrics.IncOrder(rt.ID(), types.OrderRejected)
			s.db.LogOrder(s.results.SessionID(), order)
		} else {
			metrics.IncOrder(rt.ID(), "breaker")
		}
		return
	}

	stats.Executed++
	metrics.IncOrder(rt.ID(), types.OrderFilled)
	s.db.LogOrder(s.results.SessionID(), order)
}

// persistNewTrades pushes fills appended since the last round to the store.
func (s *Scheduler) persistNewTrades(rt *ModelRuntime) {
	trades := rt.Ledger.Trades()
	s.mu.Lock()
	from := s.loggedTrades[rt.ID()]
	s.loggedTrades[rt.ID()] = len(trades)
	s.mu.Unlock()

	for _, t := range trades[from:] {
		s.db.LogTrade(s.results.SessionID(), t)
	}
}

// rolloverDay clears every ledger's daily loss counter when the UTC day
// changes, re-arming tripped breakers for the new day.
func (s *Scheduler) rolloverDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")

	s.mu.Lock()
	changed := s.tradingDay != "" && s.tradingDay != day
	s.tradingDay = day
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.Info().Str("day", day).Msg("🌅 New trading day, resetting daily loss counters")
	for _, rt := range s.runtimes {
		rt.Ledger.ResetDaily()
	}
}

func (s *Scheduler) finishRound(rec types.RoundRecord) {
	s.mu.Lock()
	s.roundLog = append(s.roundLog, rec)
	s.mu.Unlock()
}

func (s *Scheduler) rememberPrices(prices map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range prices {
		s.lastPrices[k] = v
	}
}

func (s *Scheduler) lastPricesCopy() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.lastPrices))
	for k, v := range s.lastPrices {
		out[k] = v
	}
	return out
}

// cleanup exports results and releases connections. Runs once, on every
// exit path out of Run.
func (s *Scheduler) cleanup() {
	s.cleanupOnce.Do(func() {
		prices := s.lastPricesCopy()
		final := BuildLeaderboard(s.runtimes, prices)

		end := s.now()
		summary := storage.SessionSummary{
			DurationMinutes: end.Sub(s.startedAt).Minutes(),
		}
		for _, rt := range s.runtimes {
			decisions, errCount, _ := rt.Stats()
			summary.TotalDecisions += decisions
			summary.TotalErrors += errCount
		}
		if len(final) > 0 {
			summary.Leader = final[0].Model
			summary.LeaderReturnPct = final[0].ReturnPct
		}

		result := storage.SessionResult{
			SessionID:    s.results.SessionID(),
			SessionStart: s.startedAt,
			SessionEnd:   end,
			Symbols:      s.cfg.Symbols,
			TotalRounds:  s.round,
			Config: storage.SessionConfig{
				DecisionInterval: s.cfg.DecisionInterval.String(),
				CapitalPerModel:  s.cfg.CapitalPerModel.InexactFloat64(),
			},
			FinalLeaderboard: final,
			RoundResults:     s.RoundLog(),
			Summary:          summary,
		}
		if err := s.results.Export(result); err != nil {
			s.logger.Error().Err(err).Msg("Results export failed")
		}

		if err := s.market.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Market close failed")
		}
		s.db.Close()

		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()

		for _, o := range s.observers {
			o.SessionFinished(s.results.SessionID(), final)
		}
		s.logger.Info().Msg("Arena stopped")
	})
}

// BuildRuntimes wires one runtime per enabled model with a fresh ledger.
func BuildRuntimes(cfg *config.Config, adapters []models.Adapter) []*ModelRuntime {
	params := ledger.Params{
		Slippage:       cfg.Slippage,
		CommissionRate: cfg.CommissionRate,
		MinOrderUSD:    cfg.MinOrderUSD,
		MaxDailyLoss:   cfg.MaxDailyLoss,
	}
	runtimes := make([]*ModelRuntime, 0, len(adapters))
	for _, a := range adapters {
		l := ledger.New(a.ID(), cfg.CapitalPerModel, params)
		runtimes = append(runtimes, NewModelRuntime(a, l))
	}
	return runtimes
}
