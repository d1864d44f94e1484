package models

import (
	"fmt"
	"sort"
	"strings"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PROMPT - Round payload rendering
// ═══════════════════════════════════════════════════════════════════════════════

const systemPrompt = `You are a cryptocurrency trading model competing against other models on identical paper accounts.
Analyze the market data and reply with ONLY a JSON array of decisions, one per symbol:
[{"symbol":"BTC/USDT","action":"BUY|SELL|HOLD","confidence":0.0-1.0,"position_size":0.0-1.0,"reasoning":"10-2000 chars","stop_loss":optional,"take_profit":optional}]
position_size is a fraction of available cash for BUY, a fraction of the held position for SELL, and must be 0 for HOLD.
For BUY, stop_loss must be below take_profit; for SELL, above. Do not wrap the JSON in prose.`

// RenderPrompt formats one round's market and account state for a model.
func RenderPrompt(p *types.RoundPayload) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ROUND %d | %s | %.1f minutes elapsed\n\n",
		p.Round, p.CurrentTime.UTC().Format("2006-01-02 15:04:05"), p.MinutesElapsed)

	fmt.Fprintf(&b, "ACCOUNT\n")
	fmt.Fprintf(&b, "  cash: $%.2f | total value: $%.2f | return: %+.2f%%\n",
		p.Account.Cash, p.Account.TotalValue, p.Account.ReturnPct)
	fmt.Fprintf(&b, "  trades: %d | win rate: %.1f%% | daily pnl: %+.2f\n",
		p.Account.TotalTrades, p.Account.WinRate*100, p.Account.DailyPnL)
	if p.Account.BreakerActive {
		b.WriteString("  CIRCUIT BREAKER ACTIVE: new orders will be rejected\n")
	}
	if len(p.Account.Positions) == 0 {
		b.WriteString("  positions: none\n")
	}
	for _, pos := range p.Account.Positions {
		fmt.Fprintf(&b, "  position %s: size %.6f @ avg $%.2f, now $%.2f (pnl %+.2f)\n",
			pos.Symbol, pos.Size, pos.AvgEntryPrice, pos.CurrentPrice, pos.UnrealizedPnL)
	}

	// Stable symbol order keeps prompts reproducible.
	symbols := make([]string, 0, len(p.Market))
	for s := range p.Market {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		snap := p.Market[symbol]
		fmt.Fprintf(&b, "\n%s @ $%.2f\n", symbol, snap.LatestPrice)
		fmt.Fprintf(&b, "  ema20 %.2f | rsi14 %.1f | rsi7 %.1f | macd %+.4f | volume %.2f\n",
			snap.Indicators.EMA20, snap.Indicators.RSI14, snap.Indicators.RSI7,
			snap.Indicators.MACD, snap.Indicators.Volume)

		tfs := make([]string, 0, len(snap.PriceSeries))
		for tf := range snap.PriceSeries {
			tfs = append(tfs, tf)
		}
		sort.Strings(tfs)
		for _, tf := range tfs {
			fmt.Fprintf(&b, "  closes %s: %s\n", tf, joinFloats(snap.PriceSeries[tf]))
		}
		fmt.Fprintf(&b, "  rsi14 series: %s\n", joinFloats(snap.IndicatorSeries.RSI14))
		fmt.Fprintf(&b, "  macd series: %s\n", joinFloats(snap.IndicatorSeries.MACD))
	}

	fmt.Fprintf(&b, "\nReply with one decision per symbol (%s).\n", strings.Join(p.Symbols, ", "))
	return b.String()
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%.4g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
