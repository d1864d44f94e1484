package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER LEDGER - Deterministic cash/position accounting per model
// ═══════════════════════════════════════════════════════════════════════════════
//
// Execution model per order:
//   breaker check → validation → slippage fill → commission → settle
//
// The breaker check comes before anything is recorded: a tripped ledger
// produces no order rows, so replaying the order stream reproduces state
// exactly.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Execution error kinds
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBreakerTripped    = errors.New("circuit breaker tripped")
)

// Params are the execution constants shared by every ledger in a session.
type Params struct {
	Slippage       decimal.Decimal // fill price skew per side
	CommissionRate decimal.Decimal // charged on notional
	MinOrderUSD    decimal.Decimal
	MaxDailyLoss   decimal.Decimal // fraction of initial capital
}

// buyBasis is the running size-weighted average of all BUY fills in one
// symbol. It survives full exits so a later sell can still be scored.
type buyBasis struct {
	size     decimal.Decimal
	avgPrice decimal.Decimal
}

// Ledger is one model's paper account. Safe for concurrent use; the mutex is
// never held across anything that blocks.
type Ledger struct {
	mu sync.Mutex

	model          string
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*types.Position
	orders         []types.Order
	trades         []types.Trade

	realizedPnL decimal.Decimal
	dailyPnL    decimal.Decimal
	tripped     bool

	buyHistory map[string]*buyBasis
	wins       int
	losses     int

	params Params
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a ledger with the given starting capital
func New(model string, initialCapital decimal.Decimal, params Params) *Ledger {
	return &Ledger{
		model:          model,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
		buyHistory:     make(map[string]*buyBasis),
		params:         params,
		logger:         log.With().Str("component", "ledger").Str("model", model).Logger(),
		now:            time.Now,
	}
}

// Model returns the owning model id.
func (l *Ledger) Model() string { return l.model }

// Execute settles one order against the account. refPrice is the market
// price before slippage. On rejection the returned order carries the reason
// and no account state changes; a tripped breaker rejects without recording
// an order at all.
func (l *Ledger) Execute(symbol, action string, size, refPrice decimal.Decimal) (types.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tripped {
		return types.Order{}, fmt.Errorf("%w: daily pnl %s", ErrBreakerTripped, l.dailyPnL.StringFixed(2))
	}

	order := types.Order{
		ID:        uuid.NewString(),
		Model:     l.model,
		Symbol:    symbol,
		Action:    action,
		Size:      size,
		Status:    types.OrderPending,
		CreatedAt: l.now(),
	}

	if action != types.ActionBuy && action != types.ActionSell {
		return l.reject(order, fmt.Errorf("%w: action %q", ErrInvalidOrder, action))
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return l.reject(order, fmt.Errorf("%w: size %s", ErrInvalidOrder, size))
	}
	if refPrice.LessThanOrEqual(decimal.Zero) {
		return l.reject(order, fmt.Errorf("%w: price %s", ErrInvalidOrder, refPrice))
	}
	// Minimum order is judged on the pre-slippage notional.
	if ref := size.Mul(refPrice); ref.LessThan(l.params.MinOrderUSD) {
		return l.reject(order, fmt.Errorf("%w: notional %s below minimum %s",
			ErrInvalidOrder, ref.StringFixed(2), l.params.MinOrderUSD.StringFixed(2)))
	}

	one := decimal.NewFromInt(1)
	var fillPrice decimal.Decimal
	if action == types.ActionBuy {
		fillPrice = refPrice.Mul(one.Add(l.params.Slippage))
	} else {
		fillPrice = refPrice.Mul(one.Sub(l.params.Slippage))
	}
	notional := size.Mul(fillPrice)
	commission := notional.Mul(l.params.CommissionRate)

	order.Price = fillPrice
	order.Notional = notional
	order.Commission = commission

	if action == types.ActionBuy {
		return l.fillBuy(order, symbol, size, fillPrice, notional, commission)
	}
	return l.fillSell(order, symbol, size, fillPrice, notional, commission)
}

func (l *Ledger) fillBuy(order types.Order, symbol string, size, fillPrice, notional, commission decimal.Decimal) (types.Order, error) {
	cost := notional.Add(commission)
	if cost.GreaterThan(l.cash) {
		return l.reject(order, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, cost.StringFixed(2), l.cash.StringFixed(2)))
	}

	l.cash = l.cash.Sub(cost)

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol, OpenedAt: order.CreatedAt}
		l.positions[symbol] = pos
	}
	pos.AvgEntryPrice = weightedAvg(pos.Size, pos.AvgEntryPrice, size, fillPrice)
	pos.Size = pos.Size.Add(size)

	basis, ok := l.buyHistory[symbol]
	if !ok {
		basis = &buyBasis{}
		l.buyHistory[symbol] = basis
	}
	basis.avgPrice = weightedAvg(basis.size, basis.avgPrice, size, fillPrice)
	basis.size = basis.size.Add(size)

	order.Status = types.OrderFilled
	l.orders = append(l.orders, order)
	l.trades = append(l.trades, types.Trade{
		OrderID: order.ID, Model: l.model, Symbol: symbol, Action: order.Action,
		Size: size, Price: fillPrice, PnL: decimal.Zero, Timestamp: order.CreatedAt,
	})

	l.logger.Info().
		Str("symbol", symbol).
		Str("size", size.String()).
		Str("fill", fillPrice.StringFixed(4)).
		Str("cash", l.cash.StringFixed(2)).
		Msg("🟢 BUY filled")
	return order, nil
}

func (l *Ledger) fillSell(order types.Order, symbol string, size, fillPrice, notional, commission decimal.Decimal) (types.Order, error) {
	pos, ok := l.positions[symbol]
	if !ok || pos.Size.LessThan(size) {
		held := decimal.Zero
		if ok {
			held = pos.Size
		}
		return l.reject(order, fmt.Errorf("%w: selling %s with %s held",
			ErrInvalidOrder, size, held))
	}

	proceeds := notional.Sub(commission)
	l.cash = l.cash.Add(proceeds)

	pnl := proceeds.Sub(size.Mul(pos.AvgEntryPrice))
	l.realizedPnL = l.realizedPnL.Add(pnl)
	l.dailyPnL = l.dailyPnL.Add(pnl)

	pos.Size = pos.Size.Sub(size)
	if pos.Size.IsZero() {
		delete(l.positions, symbol)
	}

	// Scored against the running buy basis, cleared of round-trip commission.
	if basis, ok := l.buyHistory[symbol]; ok && basis.avgPrice.IsPositive() {
		two := decimal.NewFromInt(2)
		hurdle := basis.avgPrice.Mul(decimal.NewFromInt(1).Add(two.Mul(l.params.CommissionRate)))
		if fillPrice.GreaterThan(hurdle) {
			l.wins++
		} else {
			l.losses++
		}
	}

	order.Status = types.OrderFilled
	l.orders = append(l.orders, order)
	l.trades = append(l.trades, types.Trade{
		OrderID: order.ID, Model: l.model, Symbol: symbol, Action: order.Action,
		Size: size, Price: fillPrice, PnL: pnl, Timestamp: order.CreatedAt,
	})

	l.logger.Info().
		Str("symbol", symbol).
		Str("size", size.String()).
		Str("fill", fillPrice.StringFixed(4)).
		Str("pnl", pnl.StringFixed(2)).
		Str("cash", l.cash.StringFixed(2)).
		Msg("🔴 SELL filled")

	// Daily-loss breaker arms after settlement.
	limit := l.initialCapital.Mul(l.params.MaxDailyLoss).Neg()
	if l.dailyPnL.LessThan(limit) {
		l.tripped = true
		l.logger.Warn().
			Str("daily_pnl", l.dailyPnL.StringFixed(2)).
			Str("limit", limit.StringFixed(2)).
			Msg("🚨 Circuit breaker tripped")
	}
	return order, nil
}

// reject records the order with its reason and passes the error up.
func (l *Ledger) reject(order types.Order, err error) (types.Order, error) {
	order.Status = types.OrderRejected
	order.Reason = err.Error()
	l.orders = append(l.orders, order)

	l.logger.Warn().
		Str("symbol", order.Symbol).
		Str("action", order.Action).
		Str("reason", order.Reason).
		Msg("Order rejected")
	return order, err
}

// State marks the account to the given prices. A symbol missing from prices
// is valued at its average entry.
func (l *Ledger) State(prices map[string]float64) types.AccountView {
	l.mu.Lock()
	defer l.mu.Unlock()

	view := types.AccountView{
		Cash:          l.cash.InexactFloat64(),
		RealizedPnL:   l.realizedPnL.InexactFloat64(),
		DailyPnL:      l.dailyPnL.InexactFloat64(),
		BreakerActive: l.tripped,
	}

	total := l.cash
	for symbol, pos := range l.positions {
		price := pos.AvgEntryPrice
		if p, ok := prices[symbol]; ok && p > 0 {
			price = decimal.NewFromFloat(p)
		}
		value := pos.Size.Mul(price)
		total = total.Add(value)

		view.Positions = append(view.Positions, types.PositionView{
			Symbol:        symbol,
			Size:          pos.Size.InexactFloat64(),
			AvgEntryPrice: pos.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:  price.InexactFloat64(),
			Value:         value.InexactFloat64(),
			UnrealizedPnL: value.Sub(pos.Size.Mul(pos.AvgEntryPrice)).InexactFloat64(),
		})
	}

	view.TotalValue = total.InexactFloat64()
	if l.initialCapital.IsPositive() {
		view.ReturnPct = total.Sub(l.initialCapital).
			Div(l.initialCapital).
			Mul(decimal.NewFromInt(100)).
			InexactFloat64()
	}

	for _, o := range l.orders {
		if o.Status == types.OrderFilled {
			view.TotalTrades++
		}
	}
	if scored := l.wins + l.losses; scored > 0 {
		view.WinRate = float64(l.wins) / float64(scored)
	}
	return view
}

// Position returns a copy of the holding in symbol, false when flat.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Cash returns available cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Orders returns a copy of the append-only order log.
func (l *Ledger) Orders() []types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Order, len(l.orders))
	copy(out, l.orders)
	return out
}

// Trades returns a copy of the fill log.
func (l *Ledger) Trades() []types.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// BreakerActive reports whether the daily-loss breaker is tripped.
func (l *Ledger) BreakerActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tripped
}

// ResetDaily clears the daily loss counter and re-arms the breaker.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dailyPnL = decimal.Zero
	if l.tripped {
		l.logger.Info().Msg("Circuit breaker reset")
	}
	l.tripped = false
}

// weightedAvg merges (oldSize @ oldAvg) with (addSize @ addPrice).
func weightedAvg(oldSize, oldAvg, addSize, addPrice decimal.Decimal) decimal.Decimal {
	total := oldSize.Add(addSize)
	if total.IsZero() {
		return addPrice
	}
	return oldSize.Mul(oldAvg).Add(addSize.Mul(addPrice)).Div(total)
}
