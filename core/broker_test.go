package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"llm-trading-arena/ledger"
	"llm-trading-arena/models"
	"llm-trading-arena/types"
)

// scriptedAdapter returns a fixed bundle, error, or hangs until ctx is done.
type scriptedAdapter struct {
	id        string
	decisions []types.Decision
	err       error
	hang      bool
	delay     time.Duration
}

func (a *scriptedAdapter) ID() string { return a.id }

func (a *scriptedAdapter) Decide(ctx context.Context, payload *types.RoundPayload) (*types.DecisionBundle, error) {
	if a.hang {
		<-ctx.Done()
		return nil, &models.AdapterError{Kind: models.KindTimeout, Model: a.id, Err: ctx.Err()}
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &types.DecisionBundle{Model: a.id, Decisions: a.decisions, LatencyMS: 1}, nil
}

func buyDecision(symbol string) types.Decision {
	return types.Decision{
		Symbol:       symbol,
		Action:       types.ActionBuy,
		Confidence:   0.8,
		PositionSize: 0.5,
		Reasoning:    "scripted buy for testing",
	}
}

func testRuntime(a models.Adapter) *ModelRuntime {
	params := ledger.Params{
		Slippage:       decimal.NewFromFloat(0.001),
		CommissionRate: decimal.NewFromFloat(0.001),
		MinOrderUSD:    decimal.NewFromInt(1),
		MaxDailyLoss:   decimal.NewFromFloat(0.05),
	}
	return NewModelRuntime(a, ledger.New(a.ID(), decimal.NewFromInt(1000), params))
}

func basePayload() types.RoundPayload {
	return types.RoundPayload{
		Round:   1,
		Symbols: []string{"BTC/USDT"},
		Market: map[string]*types.SymbolSnapshot{
			"BTC/USDT": {Symbol: "BTC/USDT", LatestPrice: 100},
		},
	}
}

func TestBrokerCollectsAllBundles(t *testing.T) {
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "alpha", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
		testRuntime(&scriptedAdapter{id: "beta", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
	}

	b := NewBroker()
	bundles := b.Collect(context.Background(), runtimes, basePayload(), map[string]float64{"BTC/USDT": 100})

	if len(bundles) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(bundles))
	}
	for _, rt := range runtimes {
		bundle := bundles[rt.ID()]
		if bundle == nil {
			t.Fatalf("%s: missing bundle", rt.ID())
		}
		decisions, errCount, _ := rt.Stats()
		if decisions != 1 || errCount != 0 {
			t.Errorf("%s: stats = %d decisions / %d errors", rt.ID(), decisions, errCount)
		}
	}
}

func TestBrokerIsolatesFailingModel(t *testing.T) {
	boom := &models.AdapterError{Kind: models.KindTransport, Model: "broken", Err: errors.New("connection refused")}
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "healthy", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
		testRuntime(&scriptedAdapter{id: "broken", err: boom}),
	}

	b := NewBroker()
	bundles := b.Collect(context.Background(), runtimes, basePayload(), map[string]float64{"BTC/USDT": 100})

	if bundles["healthy"] == nil {
		t.Fatal("healthy model must still deliver")
	}
	if bundles["broken"] != nil {
		t.Fatal("failed model must map to nil")
	}

	_, errCount, _ := runtimes[1].Stats()
	if errCount != 1 {
		t.Errorf("expected 1 recorded error, got %d", errCount)
	}
	if runtimes[1].LastError() == "" {
		t.Error("last error should be captured")
	}
}

func TestBrokerDeadlineScoresStragglersAsTimeout(t *testing.T) {
	runtimes := []*ModelRuntime{
		testRuntime(&scriptedAdapter{id: "fast", decisions: []types.Decision{buyDecision("BTC/USDT")}}),
		testRuntime(&scriptedAdapter{id: "stuck", hang: true}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	b := NewBroker()
	start := time.Now()
	bundles := b.Collect(ctx, runtimes, basePayload(), map[string]float64{"BTC/USDT": 100})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("collect blocked past the deadline: %v", elapsed)
	}
	if bundles["fast"] == nil {
		t.Error("fast model should settle before the deadline")
	}
	if bundles["stuck"] != nil {
		t.Error("hung model must map to nil")
	}

	_, errCount, _ := runtimes[1].Stats()
	if errCount != 1 {
		t.Errorf("hung model should be scored as one error, got %d", errCount)
	}
}

func TestBrokerPersonalizesAccount(t *testing.T) {
	// Give one runtime an open position; its payload must show it.
	seen := make(chan types.AccountView, 1)
	probe := &probeAdapter{id: "probe", seen: seen}

	rt := testRuntime(probe)
	if _, err := rt.Ledger.Execute("BTC/USDT", types.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(100)); err != nil {
		t.Fatal(err)
	}

	b := NewBroker()
	b.Collect(context.Background(), []*ModelRuntime{rt}, basePayload(), map[string]float64{"BTC/USDT": 100})

	view := <-seen
	if len(view.Positions) != 1 || view.Positions[0].Symbol != "BTC/USDT" {
		t.Errorf("payload account missing the position: %+v", view)
	}
}

// probeAdapter records the account view it was handed.
type probeAdapter struct {
	id   string
	seen chan types.AccountView
}

func (a *probeAdapter) ID() string { return a.id }

func (a *probeAdapter) Decide(ctx context.Context, payload *types.RoundPayload) (*types.DecisionBundle, error) {
	a.seen <- payload.Account
	return &types.DecisionBundle{Model: a.id}, nil
}

func TestErrorKindLabels(t *testing.T) {
	ae := &models.AdapterError{Kind: models.KindRateLimited, Err: errors.New("429")}
	if got := errorKind(ae); got != "rate_limited" {
		t.Errorf("adapter error label = %q", got)
	}
	if got := errorKind(context.DeadlineExceeded); got != "timeout" {
		t.Errorf("deadline label = %q", got)
	}
	if got := errorKind(errors.New("misc")); got != "error" {
		t.Errorf("fallback label = %q", got)
	}
}
