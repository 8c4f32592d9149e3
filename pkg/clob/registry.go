package clob

import (
	"fmt"
	"sync"
)

// Registry manages the set of trading markets. Registration happens at
// construction time; status updates (pause/settle) are the only runtime
// mutation.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

// NewRegistry creates an empty market registry.
func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds a market. Returns an error if the symbol is taken.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("market %s already registered", m.Symbol)
	}
	r.markets[m.Symbol] = m
	return nil
}

// Get retrieves a market by symbol.
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	return m, nil
}

// List returns all registered markets.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	return markets
}

// UpdateStatus changes the trading status of a market. Settled is terminal.
func (r *Registry) UpdateStatus(symbol string, status MarketStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	if m.Status == Settled {
		return fmt.Errorf("cannot change status of settled market %s", symbol)
	}
	m.Status = status
	return nil
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
