package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llm-trading-arena/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DATA - Rate-limited, cached OHLCV access
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   cache → rate limiter → exchange → validate → trim → cache
//
// ═══════════════════════════════════════════════════════════════════════════════

// lookbackPad over-fetches so the trailing window is full even when the
// venue returns gappy history.
const lookbackPad = 1.2

// maxFetchLimit is the venue's hard cap on candles per request.
const maxFetchLimit = 1000

// MarketData serves validated candle series to the rest of the system.
type MarketData struct {
	exchange Exchange
	limiter  *RateLimiter
	cache    *candleCache
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMarketData creates the market data service
func NewMarketData(exchange Exchange, maxRequestsPerMinute int, cacheTTL time.Duration) *MarketData {
	return &MarketData{
		exchange: exchange,
		limiter:  NewRateLimiter(maxRequestsPerMinute, time.Minute),
		cache:    newCandleCache(cacheTTL),
		logger:   log.With().Str("component", "market").Logger(),
		now:      time.Now,
	}
}

// FetchSingle returns the most recent lookback candles for one symbol and
// timeframe, oldest first. Served from cache when fresh.
func (m *MarketData) FetchSingle(ctx context.Context, symbol, timeframe string, lookback int) (types.Series, error) {
	tfMillis, err := TimeframeMillis(timeframe)
	if err != nil {
		return nil, err
	}
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}

	key := cacheKey(symbol, timeframe, lookback)
	if s, ok := m.cache.Get(key); ok {
		return s, nil
	}

	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	since := m.now().UnixMilli() - int64(lookbackPad*float64(lookback)*float64(tfMillis))
	limit := 2 * lookback
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	series, err := m.exchange.FetchOHLCV(ctx, symbol, timeframe, since, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, timeframe, err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty response for %s %s", ErrCorrupt, symbol, timeframe)
	}
	// Corrupt data is never cached.
	if err := validateSeries(series); err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, err)
	}

	if len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	m.cache.Put(key, series)

	m.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("candles", len(series)).
		Msg("Fetched series")

	return series, nil
}

// FetchMulti fetches every symbol×timeframe pair concurrently, one goroutine
// per pair. A symbol is all-or-nothing: any timeframe failure drops the whole
// symbol into the error map and keeps it out of the result.
func (m *MarketData) FetchMulti(ctx context.Context, symbols, timeframes []string, lookback int) (map[string]map[string]types.Series, map[string]error) {
	result := make(map[string]map[string]types.Series, len(symbols))
	failed := make(map[string]error)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			var (
				fmu    sync.Mutex
				fwg    sync.WaitGroup
				frames = make(map[string]types.Series, len(timeframes))
				ferr   error
			)
			for _, tf := range timeframes {
				fwg.Add(1)
				go func(tf string) {
					defer fwg.Done()
					s, err := m.FetchSingle(ctx, symbol, tf, lookback)
					fmu.Lock()
					defer fmu.Unlock()
					if err != nil {
						if ferr == nil {
							ferr = err
						}
						return
					}
					frames[tf] = s
				}(tf)
			}
			fwg.Wait()

			mu.Lock()
			defer mu.Unlock()
			if ferr != nil {
				failed[symbol] = ferr
				return
			}
			result[symbol] = frames
		}(symbol)
	}
	wg.Wait()

	for symbol, err := range failed {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Symbol fetch failed")
	}
	return result, failed
}

// CurrentPrice returns the live ticker price, rate limited like any fetch.
func (m *MarketData) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		return 0, err
	}
	price, err := m.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	return price, nil
}

// CacheStats exposes cache hit/miss counters.
func (m *MarketData) CacheStats() (hits, misses int64) {
	return m.cache.Stats()
}

// Close releases the cache and the underlying exchange client.
func (m *MarketData) Close() error {
	m.cache.Clear()
	return m.exchange.Close()
}

// validateSeries rejects out-of-order timestamps and impossible OHLC bars.
func validateSeries(s types.Series) error {
	for i, c := range s {
		if i > 0 && c.Time <= s[i-1].Time {
			return fmt.Errorf("%w: non-monotonic timestamps at index %d", ErrCorrupt, i)
		}
		if c.High < c.Low ||
			c.High < c.Open || c.High < c.Close ||
			c.Low > c.Open || c.Low > c.Close {
			return fmt.Errorf("%w: invalid OHLC bar at index %d", ErrCorrupt, i)
		}
		if c.Volume < 0 {
			return fmt.Errorf("%w: negative volume at index %d", ErrCorrupt, i)
		}
	}
	return nil
}
