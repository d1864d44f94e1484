package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"llm-trading-arena/feeds"
	"llm-trading-arena/internal/config"
	"llm-trading-arena/types"
)

// stubExchange serves a synthetic uptrend and can fail chosen symbols.
type stubExchange struct {
	failing map[string]bool
}

func (e *stubExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int) (types.Series, error) {
	if e.failing[symbol] {
		return nil, errors.New("venue down")
	}
	s := make(types.Series, limit)
	for i := range s {
		price := 90 + float64(i)*10/float64(limit)
		s[i] = types.Candle{
			Time:   int64(i+1) * 60_000,
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 10,
		}
	}
	s[len(s)-1].Close = 100
	return s, nil
}

func (e *stubExchange) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (e *stubExchange) Close() error { return nil }

func testConfig(t *testing.T, symbols []string) *config.Config {
	t.Helper()
	return &config.Config{
		TradingMode:      "paper",
		CapitalPerModel:  decimal.NewFromInt(1000),
		MaxDailyLoss:     decimal.NewFromFloat(0.05),
		Slippage:         decimal.NewFromFloat(0.001),
		CommissionRate:   decimal.NewFromFloat(0.001),
		MinOrderUSD:      decimal.NewFromInt(1),
		MaxBuyFraction:   decimal.NewFromFloat(0.05),
		DecisionInterval: time.Millisecond,
		RoundTimeout:     5 * time.Second,
		Symbols:          symbols,
		Timeframes:       []string{"1m"},
		PrimaryTimeframe: "1m",
		Lookback:         30,
		ResultsDir:       t.TempDir(),
	}
}

func newTestScheduler(t *testing.T, cfg *config.Config, ex feeds.Exchange, runtimes []*ModelRuntime) *Scheduler {
	t.Helper()
	market := feeds.NewMarketData(ex, 10000, time.Minute)
	return NewScheduler(cfg, market, runtimes, nil)
}

// recordingObserver captures lifecycle events for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	started  int
	rounds   []int
	finished int
	errs     []error
}

func (o *recordingObserver) SessionStarted(sessionID string, symbols, modelIDs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RoundStarted(round int) {}

func (o *recordingObserver) RoundCompleted(rec types.RoundRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rounds = append(o.rounds, rec.Round)
}

func (o *recordingObserver) SessionFinished(sessionID string, final []types.LeaderboardEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func (o *recordingObserver) SessionError(round int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func TestSchedulerLifecycle(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	runtimes := []*ModelRuntime{testRuntime(&scriptedAdapter{id: "alpha"})}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	if got := s.State(); got != StateCreated {
		t.Fatalf("initial state %q", got)
	}

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state after init %q", got)
	}
	if err := s.Initialize(ctx); err == nil {
		t.Fatal("double initialize must fail")
	}

	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != StateStopped {
		t.Fatalf("state after run %q", got)
	}
	if err := s.Run(ctx, RunOptions{}); err == nil {
		t.Fatal("run after stop must fail")
	}
}

func TestSchedulerRunBoundedByMaxRounds(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
	}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	obs := &recordingObserver{}
	s.AddObserver(obs)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 3}); err != nil {
		t.Fatal(err)
	}

	log := s.RoundLog()
	if len(log) != 3 {
		t.Fatalf("expected 3 rounds, got %d", len(log))
	}
	for i, rec := range log {
		if rec.Round != i+1 {
			t.Errorf("round %d numbered %d", i, rec.Round)
		}
		st := rec.Models["alpha"]
		if st == nil || st.Executed != 1 {
			t.Errorf("round %d: expected 1 executed order for alpha, got %+v", rec.Round, st)
		}
		if len(rec.Leaderboard) != 1 {
			t.Errorf("round %d: leaderboard missing", rec.Round)
		}
	}
	if obs.started != 1 || obs.finished != 1 || len(obs.rounds) != 3 {
		t.Errorf("observer saw started=%d rounds=%d finished=%d",
			obs.started, len(obs.rounds), obs.finished)
	}

	// Three capped buys opened a position.
	if _, ok := runtimes[0].Ledger.Position("BTC/USDT"); !ok {
		t.Error("expected an open position after buys")
	}
}

func TestSchedulerExportsResultsOnExit(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	runtimes := []*ModelRuntime{testRuntime(&scriptedAdapter{id: "alpha"})}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(cfg.ResultsDir)
	if err != nil {
		t.Fatal(err)
	}
	var haveJSON, haveCSV bool
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".json":
			haveJSON = true
		case ".csv":
			haveCSV = true
		}
	}
	if !haveJSON || !haveCSV {
		t.Errorf("expected session JSON and leaderboard CSV, dir has %d entries", len(entries))
	}
}

func TestSchedulerDropsFailedSymbol(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT", "SOL/USDT"})
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
	}
	ex := &stubExchange{failing: map[string]bool{"SOL/USDT": true}}
	s := newTestScheduler(t, cfg, ex, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}

	log := s.RoundLog()
	if len(log) != 1 {
		t.Fatalf("expected 1 round, got %d", len(log))
	}
	rec := log[0]
	if len(rec.Errors) == 0 {
		t.Error("failed symbol should be recorded in round errors")
	}
	if _, ok := rec.Prices["SOL/USDT"]; ok {
		t.Error("failed symbol must not carry a price")
	}
	if got := rec.TotalExecuted(); got != 1 {
		t.Errorf("surviving symbol should still trade, executed %d", got)
	}
}

func TestSchedulerSurvivesTotalMarketFailure(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	runtimes := []*ModelRuntime{testRuntime(&scriptedAdapter{id: "alpha"})}

	// Zero-TTL cache so the probe result cannot mask the dead venue.
	ex := &stubExchange{}
	market := feeds.NewMarketData(ex, 10000, 0)
	s := NewScheduler(cfg, market, runtimes, nil)

	obs := &recordingObserver{}
	s.AddObserver(obs)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	// Venue dies after the probe; rounds must record the failure, not crash.
	ex.failing = map[string]bool{"BTC/USDT": true}

	if err := s.Run(ctx, RunOptions{MaxRounds: 2}); err != nil {
		t.Fatal(err)
	}

	log := s.RoundLog()
	if len(log) != 2 {
		t.Fatalf("expected 2 recorded rounds, got %d", len(log))
	}
	if len(obs.errs) == 0 {
		t.Error("observer should see the session errors")
	}
}

func TestSchedulerSellWithoutPositionRecorded(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	sell := types.Decision{
		Symbol:       "BTC/USDT",
		Action:       types.ActionSell,
		Confidence:   0.8,
		PositionSize: 1,
		Reasoning:    "scripted sell for testing",
	}
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{sell}}),
	}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}

	rec := s.RoundLog()[0]
	if got := rec.TotalExecuted(); got != 0 {
		t.Errorf("flat sell must not execute, got %d", got)
	}
	if len(rec.Errors) == 0 {
		t.Error("flat sell should be noted in round errors")
	}
}

func TestSchedulerZeroSizeBuyIsRejectedOrder(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	zero := types.Decision{
		Symbol:     "BTC/USDT",
		Action:     types.ActionBuy,
		Confidence: 0.5,
		Reasoning:  "scripted zero-size buy",
	}
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{zero}}),
	}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}

	rec := s.RoundLog()[0]
	st := rec.Models["alpha"]
	if st == nil || st.Executed != 0 || st.Rejected != 1 {
		t.Errorf("zero-size buy should reject, stats=%+v", st)
	}
	orders := runtimes[0].Ledger.Orders()
	if len(orders) != 1 || orders[0].Status != types.OrderRejected {
		t.Errorf("rejection should be on the order log, got %+v", orders)
	}
}

func TestSchedulerRecordsPerModelStats(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	hold := types.Decision{
		Symbol:     "BTC/USDT",
		Action:     types.ActionHold,
		Confidence: 0.5,
		Reasoning:  "scripted hold for testing",
	}
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
		testRuntime(&scriptedAdapter{id: "beta", decisions: []types.Decision{hold}}),
	}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(ctx, RunOptions{MaxRounds: 1}); err != nil {
		t.Fatal(err)
	}

	rec := s.RoundLog()[0]
	if len(rec.Models) != 2 {
		t.Fatalf("expected stats for both models, got %d", len(rec.Models))
	}

	alpha := rec.Models["alpha"]
	if alpha.Decisions != 1 || alpha.Actions[types.ActionBuy] != 1 || alpha.Executed != 1 {
		t.Errorf("alpha stats %+v", alpha)
	}
	beta := rec.Models["beta"]
	if beta.Decisions != 1 || beta.Actions[types.ActionHold] != 1 {
		t.Errorf("beta stats %+v", beta)
	}
	if beta.Executed != 0 || beta.Rejected != 0 {
		t.Errorf("hold must not touch the ledger, stats %+v", beta)
	}
}

func TestSchedulerResetsLedgersOnDayRollover(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	runtimes := []*ModelRuntime{testRuntime(&scriptedAdapter{id: "alpha"})}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	// Take a realized loss so the daily counter is nonzero.
	l := runtimes[0].Ledger
	if _, err := l.Execute("BTC/USDT", types.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Execute("BTC/USDT", types.ActionSell, decimal.NewFromInt(1), decimal.NewFromInt(95)); err != nil {
		t.Fatal(err)
	}
	if l.State(nil).DailyPnL >= 0 {
		t.Fatal("expected a daily loss on the books")
	}

	// First call pins the trading day; the same day again is a no-op.
	base := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	s.rolloverDay(base)
	s.rolloverDay(base.Add(5 * time.Minute))
	if l.State(nil).DailyPnL >= 0 {
		t.Fatal("same-day rounds must not reset the counter")
	}

	// Crossing midnight UTC resets every ledger.
	s.rolloverDay(base.Add(15 * time.Minute))
	if got := l.State(nil).DailyPnL; got != 0 {
		t.Errorf("daily pnl should reset on rollover, got %f", got)
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	cfg := testConfig(t, []string{"BTC/USDT"})
	cfg.DecisionInterval = 10 * time.Millisecond
	runtimes := []*ModelRuntime{testRuntime(&scriptedAdapter{id: "alpha"})}
	s := newTestScheduler(t, cfg, &stubExchange{}, runtimes)

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, RunOptions{}) }()

	// Let at least one round complete, then pause.
	deadline := time.Now().Add(2 * time.Second)
	for len(s.RoundLog()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no round completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Pause()
	if got := s.State(); got != StatePaused {
		t.Fatalf("state after pause %q", got)
	}

	s.Resume()
	if got := s.State(); got != StateRunning {
		t.Fatalf("state after resume %q", got)
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if got := s.State(); got != StateStopped {
		t.Fatalf("state after stop %q", got)
	}
}
