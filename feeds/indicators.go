package feeds

import (
	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATORS - EMA / RSI / MACD over candle series
// ═══════════════════════════════════════════════════════════════════════════════
//
// All series are oldest-first float64 slices aligned with their input: the
// warmup region is padded (raw value for EMA, 50 for RSI, 0 for MACD) so
// callers can zip indicator tails against price tails by index.
//
// ═══════════════════════════════════════════════════════════════════════════════

// seriesTail is how many trailing samples the decision payload carries.
const seriesTail = 20

// EMASeries computes an exponential moving average seeded with the simple
// average of the first period values. Indexes before the seed carry the raw
// input. Inputs shorter than period come back unchanged.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if period <= 0 || len(values) < period {
		return out
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*k + ema
		out[i] = ema
	}
	return out
}

// RSISeries computes a Wilder-smoothed RSI. The first averages are simple
// means of the first period gains/losses; later ones decay with
// (prev*(n-1)+cur)/n. Warmup indexes and too-short inputs read 50 (neutral).
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 50
	}
	if period <= 0 || len(values) < period+1 {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDHistogram computes the 12/26/9 MACD histogram (MACD line minus its
// signal line). Warmup indexes and inputs shorter than 26 read zero.
func MACDHistogram(values []float64) []float64 {
	out := make([]float64, len(values))
	const fast, slow, signalPeriod = 12, 26, 9
	if len(values) < slow {
		return out
	}

	ema12 := EMASeries(values, fast)
	ema26 := EMASeries(values, slow)

	macd := make([]float64, len(values))
	for i := slow - 1; i < len(values); i++ {
		macd[i] = ema12[i] - ema26[i]
	}

	signal := EMASeries(macd, signalPeriod)
	for i := slow - 1; i < len(values); i++ {
		out[i] = macd[i] - signal[i]
	}
	return out
}

// Tail returns the last n values (all of them when shorter).
func Tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// ComputeIndicators derives the latest indicator block and the recent tails
// for one series. An empty series yields the documented neutral defaults.
func ComputeIndicators(s types.Series) (types.IndicatorValues, types.IndicatorSeries) {
	iv := types.IndicatorValues{RSI14: 50, RSI7: 50}
	var is types.IndicatorSeries
	if len(s) == 0 {
		return iv, is
	}

	closes := s.Closes()
	last := len(closes) - 1

	ema20 := EMASeries(closes, 20)
	rsi14 := RSISeries(closes, 14)
	rsi7 := RSISeries(closes, 7)
	macd := MACDHistogram(closes)

	iv.EMA20 = ema20[last]
	iv.RSI14 = rsi14[last]
	iv.RSI7 = rsi7[last]
	iv.MACD = macd[last]
	iv.Volume = s[last].Volume

	is.EMA20 = Tail(ema20, seriesTail)
	is.RSI14 = Tail(rsi14, seriesTail)
	is.MACD = Tail(macd, seriesTail)
	return iv, is
}

// BuildSnapshot assembles the per-symbol market picture handed to models.
// Indicators come from the primary timeframe; every fetched timeframe
// contributes a close-price tail.
func BuildSnapshot(symbol string, frames map[string]types.Series, primaryTimeframe string) *types.SymbolSnapshot {
	primary := frames[primaryTimeframe]

	snap := &types.SymbolSnapshot{
		Symbol:      symbol,
		PriceSeries: make(map[string][]float64, len(frames)),
	}
	if last, ok := primary.Last(); ok {
		snap.LatestPrice = last.Close
	}
	snap.Indicators, snap.IndicatorSeries = ComputeIndicators(primary)

	for tf, s := range frames {
		snap.PriceSeries[tf] = Tail(s.Closes(), seriesTail)
	}
	return snap
}
