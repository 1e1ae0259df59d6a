// Package binance implements the Binance spot market adapter: REST candles
// and prices plus a websocket kline stream.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/metrics"
)

const (
	defaultBaseURL   = "https://api.binance.com"
	defaultStreamURL = "wss://stream.binance.com:9443"
	maxKlinesPerCall = 1000
	pairsCacheTTL    = 10 * time.Minute
)

// supportedIntervals are the kline intervals the exchange accepts. The
// timeframe grammar is wider than this; anything else must be aggregated
// upstream or served by another adapter.
var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Config controls endpoints and the request guard rails.
type Config struct {
	BaseURL    string
	StreamURL  string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

// DefaultConfig returns settings safe for the public API weight limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:    defaultBaseURL,
		StreamURL:  defaultStreamURL,
		RatePerSec: 18,
		Burst:      20,
		Timeout:    15 * time.Second,
	}
}

// Client is the REST side of the adapter. All calls go through a shared
// rate limiter and a circuit breaker so a struggling exchange degrades
// into fast failures instead of pile-ups.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     zerolog.Logger

	pairsMu       sync.Mutex
	pairs         []domain.SymbolInfo
	pairsLoadedAt time.Time
}

// NewClient creates a Binance adapter.
func NewClient(cfg Config, met *metrics.Metrics, log zerolog.Logger) *Client {
	clientLog := log.With().Str("client", "binance").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			clientLog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: breaker,
		metrics: met,
		log:     clientLog,
	}
}

// Name implements domain.MarketAdapter.
func (c *Client) Name() string { return "binance" }

// MaxLimit implements domain.MarketAdapter.
func (c *Client) MaxLimit() int { return maxKlinesPerCall }

// FetchOHLCV returns up to req.Limit candles ending at req.To (most recent
// when zero). Bars come back oldest first, exactly as the exchange sends
// them.
func (c *Client) FetchOHLCV(ctx context.Context, req domain.FetchRequest) ([]domain.Bar, error) {
	if !supportedIntervals[req.Timeframe] {
		return nil, fmt.Errorf("binance: unsupported interval %q", req.Timeframe)
	}
	limit := req.Limit
	if limit < 1 || limit > maxKlinesPerCall {
		limit = maxKlinesPerCall
	}

	query := url.Values{}
	query.Set("symbol", strings.ToUpper(req.Symbol))
	query.Set("interval", req.Timeframe)
	query.Set("limit", strconv.Itoa(limit))
	if req.From > 0 {
		query.Set("startTime", strconv.FormatInt(req.From, 10))
	}
	if req.To > 0 {
		query.Set("endTime", strconv.FormatInt(req.To, 10))
	}

	started := time.Now()
	var raw [][]interface{}
	if err := c.getJSON(ctx, "/api/v3/klines", query, &raw); err != nil {
		return nil, err
	}
	c.metrics.ObserveFetchDuration("binance", time.Since(started).Seconds())

	bars := make([]domain.Bar, 0, len(raw))
	for _, k := range raw {
		bar, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance: kline for %s: %w", req.Symbol, err)
		}
		bars = append(bars, bar)
	}

	c.log.Debug().
		Str("symbol", req.Symbol).
		Str("interval", req.Timeframe).
		Int("bars", len(bars)).
		Msg("Fetched klines")
	return bars, nil
}

// GetPrice returns the latest trade price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.getJSON(ctx, "/api/v3/ticker/price", query, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: price %q for %s: %w", resp.Price, symbol, err)
	}
	return price, nil
}

// SearchSymbols matches the query against symbol and base asset names.
func (c *Client) SearchSymbols(ctx context.Context, query string, limit int) ([]domain.SymbolInfo, error) {
	pairs, err := c.ListPairs(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToUpper(strings.TrimSpace(query))
	if needle == "" {
		return []domain.SymbolInfo{}, nil
	}

	matches := make([]domain.SymbolInfo, 0, limit)
	for _, p := range pairs {
		if strings.Contains(p.Symbol, needle) || strings.Contains(p.Base, needle) {
			matches = append(matches, p)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// ListPairs returns all actively trading pairs, cached for a few minutes
// since the exchange-info payload is large and changes rarely.
func (c *Client) ListPairs(ctx context.Context) ([]domain.SymbolInfo, error) {
	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()

	if c.pairs != nil && time.Since(c.pairsLoadedAt) < pairsCacheTTL {
		return c.pairs, nil
	}

	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := c.getJSON(ctx, "/api/v3/exchangeInfo", url.Values{}, &resp); err != nil {
		return nil, err
	}

	pairs := make([]domain.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, domain.SymbolInfo{
			Symbol:   s.Symbol,
			Name:     s.BaseAsset + "/" + s.QuoteAsset,
			Base:     s.BaseAsset,
			Quote:    s.QuoteAsset,
			Exchange: "binance",
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })

	c.pairs = pairs
	c.pairsLoadedAt = time.Now()
	c.log.Info().Int("pairs", len(pairs)).Msg("Refreshed exchange info")
	return pairs, nil
}

// getJSON performs a guarded GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("binance: rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, path, query)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return fmt.Errorf("binance: decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: building request %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: reading %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: %s returned status %d: %s", path, resp.StatusCode, firstLine(body))
	}
	return body, nil
}

// parseKline converts one raw kline array into a Bar. The exchange sends
// [openTime, open, high, low, close, volume, closeTime, ...] with prices
// as strings and times as numbers.
func parseKline(k []interface{}) (domain.Bar, error) {
	if len(k) < 6 {
		return domain.Bar{}, fmt.Errorf("kline has %d fields, want at least 6", len(k))
	}
	openTime, ok := k[0].(float64)
	if !ok {
		return domain.Bar{}, fmt.Errorf("kline open time %v is not numeric", k[0])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return domain.Bar{}, fmt.Errorf("kline field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("kline field %d %q: %w", i, s, err)
		}
		fields[i-1] = v
	}

	return domain.Bar{
		Timestamp: int64(openTime),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func firstLine(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
