package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Candle is a single OHLCV bar. Time is the bar open in exchange epoch millis.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Series is an ordered candle slice, oldest first.
type Series []Candle

// Closes extracts the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Last returns the newest candle, false when empty.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Trade actions
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Order statuses
const (
	OrderPending  = "pending"
	OrderFilled   = "filled"
	OrderRejected = "rejected"
)

// Decision is one model's validated call for one symbol.
type Decision struct {
	Symbol       string   `json:"symbol"`
	Action       string   `json:"action"` // BUY, SELL, HOLD
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	PositionSize float64  `json:"position_size"` // fraction of cash (BUY) or position (SELL)
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
}

// DecisionBundle is everything a model returned for one round.
type DecisionBundle struct {
	Model     string     `json:"model"`
	Decisions []Decision `json:"decisions"`
	LatencyMS int64      `json:"latency_ms"`
}

// Order is a single execution attempt against a paper ledger.
type Order struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"` // fill price after slippage
	Notional   decimal.Decimal `json:"notional"`
	Commission decimal.Decimal `json:"commission"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"` // set on rejection
	CreatedAt  time.Time       `json:"created_at"`
}

// Trade is a filled order with realized P&L (SELL only; zero on BUY).
type Trade struct {
	OrderID   string          `json:"order_id"`
	Model     string          `json:"model"`
	Symbol    string          `json:"symbol"`
	Action    string          `json:"action"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is an open holding in one symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// PositionView is a marked-to-market position snapshot.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	Value         float64 `json:"value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountView is a full ledger snapshot handed to models and the leaderboard.
type AccountView struct {
	Cash          float64        `json:"cash"`
	Positions     []PositionView `json:"positions"`
	TotalValue    float64        `json:"total_value"`
	ReturnPct     float64        `json:"return_pct"`
	RealizedPnL   float64        `json:"realized_pnl"`
	DailyPnL      float64        `json:"daily_pnl"`
	TotalTrades   int            `json:"total_trades"`
	WinRate       float64        `json:"win_rate"`
	BreakerActive bool           `json:"breaker_active"`
}

// IndicatorValues is the latest-value block for one symbol.
type IndicatorValues struct {
	EMA20  float64 `json:"ema20"`
	RSI14  float64 `json:"rsi14"`
	RSI7   float64 `json:"rsi7"`
	MACD   float64 `json:"macd"`
	Volume float64 `json:"volume"`
}

// IndicatorSeries holds recent indicator tails (up to 20 samples, oldest first).
type IndicatorSeries struct {
	EMA20 []float64 `json:"ema20"`
	RSI14 []float64 `json:"rsi14"`
	MACD  []float64 `json:"macd"`
}

// SymbolSnapshot is the full market picture for one symbol in one round.
type SymbolSnapshot struct {
	Symbol          string               `json:"symbol"`
	LatestPrice     float64              `json:"latest_price"`
	Indicators      IndicatorValues      `json:"indicators"`
	PriceSeries     map[string][]float64 `json:"price_series"` // timeframe → recent closes
	IndicatorSeries IndicatorSeries      `json:"indicator_series"`
}

// RoundPayload is what every model receives each round.
type RoundPayload struct {
	Round          int                        `json:"round"`
	CurrentTime    time.Time                  `json:"current_time"`
	MinutesElapsed float64                    `json:"minutes_elapsed"`
	Symbols        []string                   `json:"symbols"`
	Market         map[string]*SymbolSnapshot `json:"market"`
	Account        AccountView                `json:"account"`
}

// LeaderboardEntry is one model's standing. JSON tags double as CSV columns.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	Model        string  `json:"model"`
	TotalValue   float64 `json:"total_value"`
	ReturnPct    float64 `json:"return_pct"`
	Cash         float64 `json:"cash"`
	Positions    int     `json:"positions"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	Decisions    int     `json:"decisions"`
	Errors       int     `json:"errors"`
	AvgLatencyMS int64   `json:"avg_latency_ms"`
}

// ModelRoundStats is one model's slice of a round: decision count, a
// BUY/SELL/HOLD histogram, and execution results.
type ModelRoundStats struct {
	Decisions int            `json:"decisions"`
	Actions   map[string]int `json:"actions"`
	Executed  int            `json:"executed"`
	Rejected  int            `json:"rejected"`
}

// RoundRecord is the append-only log entry for one completed round.
type RoundRecord struct {
	Round       int                         `json:"round"`
	Timestamp   time.Time                   `json:"timestamp"`
	Symbols     []string                    `json:"symbols"`
	Prices      map[string]float64          `json:"prices"`
	Models      map[string]*ModelRoundStats `json:"models"`
	Errors      []string                    `json:"errors,omitempty"`
	Leaderboard []LeaderboardEntry          `json:"leaderboard"`
	DurationMS  int64                       `json:"duration_ms"`
}

// TotalExecuted sums filled orders across all models in the round.
func (r RoundRecord) TotalExecuted() int {
	n := 0
	for _, m := range r.Models {
		n += m.Executed
	}
	return n
}

// TotalRejected sums rejected orders across all models in the round.
func (r RoundRecord) TotalRejected() int {
	n := 0
	for _, m := range r.Models {
		n += m.Rejected
	}
	return n
}
