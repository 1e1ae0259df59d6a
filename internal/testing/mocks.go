package testing

import (
	"context"
	"strings"
	"sync"

	"github.com/avramidis/skopos/internal/domain"
)

// MockAdapter is an in-memory domain.MarketAdapter replaying a fixed history.
// It honours the adapter contract: bars come back oldest to newest, open
// times inside [From, To], at most Limit (and never more than MaxLimit).
type MockAdapter struct {
	mu       sync.Mutex
	name     string
	maxLimit int
	history  domain.BarSeries
	prices   map[string]float64
	pairs    []domain.SymbolInfo
	err      error
	tfErrs   map[string]error
	calls    int
}

// NewMockAdapter creates an adapter named name serving the given ascending
// history for every symbol.
func NewMockAdapter(name string, history domain.BarSeries) *MockAdapter {
	return &MockAdapter{
		name:     name,
		maxLimit: 1000,
		history:  history,
		prices:   make(map[string]float64),
	}
}

// SetMaxLimit overrides the per-call cap (default 1000).
func (m *MockAdapter) SetMaxLimit(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxLimit = limit
}

// SetHistory replaces the replayed series.
func (m *MockAdapter) SetHistory(history domain.BarSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = history
}

// SetErr makes every subsequent call fail with err.
func (m *MockAdapter) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetTimeframeErr makes fetches for one timeframe fail while the rest keep
// serving. Useful for exercising partial multi-timeframe failures.
func (m *MockAdapter) SetTimeframeErr(timeframe string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tfErrs == nil {
		m.tfErrs = make(map[string]error)
	}
	m.tfErrs[timeframe] = err
}

// SetPrice sets the spot price returned for a symbol.
func (m *MockAdapter) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(symbol)] = price
}

// SetPairs sets the symbols returned by ListPairs and SearchSymbols.
func (m *MockAdapter) SetPairs(pairs []domain.SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = pairs
}

// Calls reports how many FetchOHLCV calls were made.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name implements domain.MarketAdapter.
func (m *MockAdapter) Name() string { return m.name }

// MaxLimit implements domain.MarketAdapter.
func (m *MockAdapter) MaxLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLimit
}

// FetchOHLCV implements domain.MarketAdapter.
func (m *MockAdapter) FetchOHLCV(ctx context.Context, req domain.FetchRequest) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if err := m.tfErrs[req.Timeframe]; err != nil {
		return nil, err
	}

	eligible := make([]domain.Bar, 0, len(m.history))
	for _, b := range m.history {
		if req.From > 0 && b.Timestamp < req.From {
			continue
		}
		if req.To > 0 && b.Timestamp > req.To {
			continue
		}
		eligible = append(eligible, b)
	}

	limit := req.Limit
	if limit <= 0 || limit > m.maxLimit {
		limit = m.maxLimit
	}
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	out := make([]domain.Bar, len(eligible))
	copy(out, eligible)
	return out, nil
}

// GetPrice implements domain.MarketAdapter.
func (m *MockAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if p, ok := m.prices[strings.ToUpper(symbol)]; ok {
		return p, nil
	}
	if last, ok := m.history.Last(); ok {
		return last.Close, nil
	}
	return 0, nil
}

// SearchSymbols implements domain.MarketAdapter.
func (m *MockAdapter) SearchSymbols(ctx context.Context, query string, limit int) ([]domain.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	q := strings.ToUpper(query)
	var out []domain.SymbolInfo
	for _, p := range m.pairs {
		if strings.Contains(strings.ToUpper(p.Symbol), q) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ListPairs implements domain.MarketAdapter.
func (m *MockAdapter) ListPairs(ctx context.Context) ([]domain.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.SymbolInfo, len(m.pairs))
	copy(out, m.pairs)
	return out, nil
}
