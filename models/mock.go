package models

import (
	"context"
	"fmt"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MOCK ADAPTER - Deterministic offline model
// ═══════════════════════════════════════════════════════════════════════════════

// MockAdapter trades a plain RSI reversion rule. It needs no API key, so it
// serves keyless runs and tests.
type MockAdapter struct {
	id string
}

// NewMockAdapter creates a mock model
func NewMockAdapter(id string) *MockAdapter {
	if id == "" {
		id = "mock"
	}
	return &MockAdapter{id: id}
}

func (m *MockAdapter) ID() string { return m.id }

// Decide buys oversold symbols, sells overbought ones it holds, otherwise
// holds. Same payload in, same bundle out.
func (m *MockAdapter) Decide(ctx context.Context, payload *types.RoundPayload) (*types.DecisionBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AdapterError{Kind: KindTimeout, Model: m.id, Err: err}
	}

	held := make(map[string]bool, len(payload.Account.Positions))
	for _, pos := range payload.Account.Positions {
		held[pos.Symbol] = true
	}

	decisions := make([]types.Decision, 0, len(payload.Symbols))
	for _, symbol := range payload.Symbols {
		snap, ok := payload.Market[symbol]
		if !ok {
			continue
		}
		rsi := snap.Indicators.RSI14

		d := types.Decision{
			Symbol:     symbol,
			Action:     types.ActionHold,
			Confidence: 0.5,
			Reasoning:  fmt.Sprintf("rsi14 %.1f inside neutral band, staying flat", rsi),
		}
		switch {
		case rsi < 30:
			d.Action = types.ActionBuy
			d.Confidence = 0.7
			d.PositionSize = 0.5
			d.Reasoning = fmt.Sprintf("rsi14 %.1f oversold, buying a reversion leg", rsi)
		case rsi > 70 && held[symbol]:
			d.Action = types.ActionSell
			d.Confidence = 0.7
			d.PositionSize = 1.0
			d.Reasoning = fmt.Sprintf("rsi14 %.1f overbought, closing the held position", rsi)
		}
		decisions = append(decisions, d)
	}

	return &types.DecisionBundle{Model: m.id, Decisions: decisions}, nil
}
