package domain

import "context"

// FetchRequest describes a single adapter call for historical candles.
// From/To are epoch milliseconds; zero means unbounded on that side.
type FetchRequest struct {
	Symbol    string
	Timeframe string
	Limit     int
	From      int64
	To        int64
}

// SymbolInfo describes a symbol known to a market adapter.
type SymbolInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Base     string `json:"base,omitempty"`
	Quote    string `json:"quote,omitempty"`
	Exchange string `json:"exchange,omitempty"`
}

// MarketAdapter abstracts an exchange or data vendor. Implementations return
// bars sorted oldest to newest and never more than MaxLimit per call;
// validation, dedup and caching are the provider's job.
type MarketAdapter interface {
	// Name identifies the adapter in results and logs ("binance", "yahoo").
	Name() string

	// MaxLimit returns the vendor's hard cap on bars per request.
	MaxLimit() int

	// FetchOHLCV returns up to req.Limit candles inside the requested window.
	FetchOHLCV(ctx context.Context, req FetchRequest) ([]Bar, error)

	// GetPrice returns the current price for a symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// SearchSymbols finds symbols matching a free-text query.
	SearchSymbols(ctx context.Context, query string, limit int) ([]SymbolInfo, error)

	// ListPairs returns the tradable symbols the adapter serves.
	ListPairs(ctx context.Context) ([]SymbolInfo, error)
}
