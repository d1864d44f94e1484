package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXCHANGE - REST market data facade
// ═══════════════════════════════════════════════════════════════════════════════

// Market data error kinds. Callers classify with errors.Is.
var (
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrTransient        = errors.New("transient exchange error")
	ErrCorrupt          = errors.New("corrupt market data")
)

// timeframeMillis maps supported timeframes to their bar duration.
var timeframeMillis = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"1d":  86_400_000,
}

// TimeframeMillis returns the bar duration for a timeframe in milliseconds.
func TimeframeMillis(timeframe string) (int64, error) {
	ms, ok := timeframeMillis[timeframe]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}
	return ms, nil
}

// Exchange is the venue-facing market data surface. Implementations must be
// safe for concurrent use.
type Exchange interface {
	// FetchOHLCV returns candles from sinceMillis, oldest first, up to limit.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int) (types.Series, error)
	// FetchTicker returns the last traded price.
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	Close() error
}

// Binance fetches spot market data over REST.
type Binance struct {
	baseURL string
	client  *http.Client
}

// NewBinance creates a Binance exchange client
func NewBinance(baseURL string) *Binance {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// wireSymbol converts "BTC/USDT" to Binance's "BTCUSDT" notation.
func wireSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
}

// FetchOHLCV fetches klines for a symbol
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMillis int64, limit int) (types.Series, error) {
	if _, ok := timeframeMillis[timeframe]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&limit=%d",
		b.baseURL, wireSymbol(symbol), timeframe, sinceMillis, limit)

	body, err := b.get(ctx, url)
	if err != nil {
		return nil, err
	}

	// Kline rows: [openTime, open, high, low, close, volume, ...] with
	// numeric strings for prices.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode klines: %v", ErrCorrupt, err)
	}

	out := make(types.Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: short kline row", ErrCorrupt)
		}
		var c types.Candle
		if err := json.Unmarshal(row[0], &c.Time); err != nil {
			return nil, fmt.Errorf("%w: kline time: %v", ErrCorrupt, err)
		}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				return nil, fmt.Errorf("%w: kline field %d: %v", ErrCorrupt, i+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: kline field %d: %v", ErrCorrupt, i+1, err)
			}
			*dst = v
		}
		out = append(out, c)
	}
	return out, nil
}

// FetchTicker returns the current price for a symbol
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, wireSymbol(symbol))

	body, err := b.get(ctx, url)
	if err != nil {
		return 0, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("%w: decode ticker: %v", ErrCorrupt, err)
	}
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ticker price %q", ErrCorrupt, result.Price)
	}
	return price, nil
}

// get performs a GET and classifies failures.
func (b *Binance) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: http %d: %s", ErrTransient, resp.StatusCode, truncate(string(body), 200))
	default:
		return nil, fmt.Errorf("exchange http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
}

func (b *Binance) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
