// Package yahoo implements the Yahoo Finance chart adapter for equities,
// indices and anything else the crypto exchanges do not carry.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/metrics"
)

const (
	defaultBaseURL  = "https://query1.finance.yahoo.com"
	maxBarsPerCall  = 730
	userAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	spanMultiplier  = 2
	defaultSearches = 10
)

// chartIntervals maps canonical timeframes to the chart API's interval
// names. Yahoo has no 3m/2h/4h style intervals, so anything missing here
// is rejected.
var chartIntervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1h",
	"1d":  "1d",
	"1w":  "1wk",
	"1M":  "1mo",
}

// Config controls the endpoint and the request guard rails.
type Config struct {
	BaseURL    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

// DefaultConfig returns settings gentle enough for the unauthenticated API.
func DefaultConfig() Config {
	return Config{
		BaseURL:    defaultBaseURL,
		RatePerSec: 4,
		Burst:      8,
		Timeout:    30 * time.Second,
	}
}

// Client is the chart API adapter. Calls share a rate limiter and a
// circuit breaker, mirroring the exchange adapters.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewClient creates a Yahoo Finance adapter.
func NewClient(cfg Config, met *metrics.Metrics, log zerolog.Logger) *Client {
	clientLog := log.With().Str("client", "yahoo").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "yahoo",
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
		now:     time.Now,
	}
}

// Name implements domain.MarketAdapter.
func (c *Client) Name() string { return "yahoo" }

// MaxLimit implements domain.MarketAdapter.
func (c *Client) MaxLimit() int { return maxBarsPerCall }

// chartResponse is the subset of the chart payload we read. Quote arrays
// are index-aligned with Timestamp; null slots decode to zero.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchOHLCV returns up to req.Limit candles ending at req.To (most recent
// when zero). The request window is padded because exchanges close; the
// surplus is trimmed after null slots are dropped.
func (c *Client) FetchOHLCV(ctx context.Context, req domain.FetchRequest) ([]domain.Bar, error) {
	interval, ok := chartIntervals[req.Timeframe]
	if !ok {
		return nil, fmt.Errorf("yahoo: unsupported interval %q", req.Timeframe)
	}
	durMs, err := domain.TimeframeMillis(req.Timeframe)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit < 1 || limit > maxBarsPerCall {
		limit = maxBarsPerCall
	}

	toMs := req.To
	if toMs <= 0 {
		toMs = c.now().UnixMilli()
	}
	fromMs := req.From
	if fromMs <= 0 {
		fromMs = toMs - int64(limit)*durMs*spanMultiplier
	}

	query := url.Values{}
	query.Set("interval", interval)
	query.Set("period1", strconv.FormatInt(fromMs/1000, 10))
	query.Set("period2", strconv.FormatInt(toMs/1000, 10))
	query.Set("events", "history")

	started := time.Now()
	var resp chartResponse
	path := "/v8/finance/chart/" + url.PathEscape(strings.ToUpper(req.Symbol))
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	c.metrics.ObserveFetchDuration("yahoo", time.Since(started).Seconds())

	bars, err := parseChart(&resp)
	if err != nil {
		return nil, fmt.Errorf("yahoo: chart for %s: %w", req.Symbol, err)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	c.log.Debug().
		Str("symbol", req.Symbol).
		Str("interval", req.Timeframe).
		Int("bars", len(bars)).
		Msg("Fetched chart")
	return bars, nil
}

// GetPrice returns the regular market price from the chart metadata.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("interval", "1d")
	query.Set("range", "1d")

	var resp chartResponse
	path := "/v8/finance/chart/" + url.PathEscape(strings.ToUpper(symbol))
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return 0, err
	}
	if resp.Chart.Error != nil {
		return 0, fmt.Errorf("yahoo: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return 0, fmt.Errorf("yahoo: no quote data for %s", symbol)
	}
	price := resp.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return 0, fmt.Errorf("yahoo: no valid price for %s", symbol)
	}
	return price, nil
}

// SearchSymbols queries the free-text search endpoint.
func (c *Client) SearchSymbols(ctx context.Context, query string, limit int) ([]domain.SymbolInfo, error) {
	needle := strings.TrimSpace(query)
	if needle == "" {
		return []domain.SymbolInfo{}, nil
	}
	if limit < 1 {
		limit = defaultSearches
	}

	params := url.Values{}
	params.Set("q", needle)
	params.Set("quotesCount", strconv.Itoa(limit))
	params.Set("newsCount", "0")

	var resp struct {
		Quotes []struct {
			Symbol    string `json:"symbol"`
			ShortName string `json:"shortname"`
			LongName  string `json:"longname"`
			QuoteType string `json:"quoteType"`
		} `json:"quotes"`
	}
	if err := c.getJSON(ctx, "/v1/finance/search", params, &resp); err != nil {
		return nil, err
	}

	matches := make([]domain.SymbolInfo, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		matches = append(matches, domain.SymbolInfo{
			Symbol:   q.Symbol,
			Name:     name,
			Exchange: "yahoo",
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// ListPairs is not supported; Yahoo has no enumerable universe.
func (c *Client) ListPairs(ctx context.Context) ([]domain.SymbolInfo, error) {
	return nil, fmt.Errorf("yahoo: listing the symbol universe is not supported, use search")
}

// getJSON performs a guarded GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("yahoo: rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, path, query)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return fmt.Errorf("yahoo: decoding %s: %w", path, err)
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
		return nil, fmt.Errorf("yahoo: building request %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo: reading %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: %s returned status %d: %s", path, resp.StatusCode, firstLine(body))
	}
	return body, nil
}

// parseChart flattens the chart arrays into bars. Rows where every price
// is zero are null slots from halted sessions and are skipped.
func parseChart(resp *chartResponse) ([]domain.Bar, error) {
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return []domain.Bar{}, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return []domain.Bar{}, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			continue
		}
		if quote.Open[i] == 0 && quote.High[i] == 0 && quote.Low[i] == 0 && quote.Close[i] == 0 {
			continue
		}
		volume := 0.0
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}
		bars = append(bars, domain.Bar{
			Timestamp: ts * 1000,
			Open:      quote.Open[i],
			High:      quote.High[i],
			Low:       quote.Low[i],
			Close:     quote.Close[i],
			Volume:    volume,
		})
	}
	return bars, nil
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
