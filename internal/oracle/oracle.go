// Package oracle supplies platform quotes. Settlement reads a quote exactly
// once and uses that single value for all of its math, so implementations only
// need point-in-time consistency, not freshness.
package oracle

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

// Oracle resolves the current quote for a trading symbol
type Oracle interface {
	GetQuote(symbol string) (models.Quote, error)
}

type driftState struct {
	price   decimal.Decimal
	opening decimal.Decimal
	volume  decimal.Decimal
}

// Drift is a simulated market feed: every read nudges the price by a small
// random step. Safe for concurrent use.
type Drift struct {
	mu      sync.Mutex
	rng     *rand.Rand
	symbols map[string]*driftState
}

// NewDrift creates a drifting oracle seeded with the given opening prices
func NewDrift(opening map[string]decimal.Decimal) *Drift {
	symbols := make(map[string]*driftState, len(opening))
	for symbol, price := range opening {
		symbols[symbol] = &driftState{
			price:   price,
			opening: price,
			volume:  decimal.Zero,
		}
	}
	return &Drift{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		symbols: symbols,
	}
}

// GetQuote returns the current quote for symbol, drifting the price by up to
// ±0.2% per read
func (d *Drift) GetQuote(symbol string) (models.Quote, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.symbols[symbol]
	if !ok {
		return models.Quote{}, errs.ErrUnknownSymbol
	}

	step := decimal.NewFromFloat((d.rng.Float64() - 0.5) * 0.004)
	state.price = state.price.Mul(decimal.NewFromInt(1).Add(step))
	state.volume = state.volume.Add(decimal.NewFromFloat(d.rng.Float64() * 10))

	change := decimal.Zero
	if !state.opening.IsZero() {
		change = state.price.Sub(state.opening).
			Div(state.opening).
			Mul(decimal.NewFromInt(100)).
			Round(4)
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         state.price,
		Volume:        state.volume,
		ChangePercent: change,
		AsOf:          time.Now(),
	}, nil
}

// Symbols lists the trading pairs this feed serves, sorted
func (d *Drift) Symbols() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	symbols := make([]string, 0, len(d.symbols))
	for symbol := range d.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Static serves fixed prices; used by tests and as a stand-in when no feed is
// configured.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a fixed-price oracle
func NewStatic(prices map[string]decimal.Decimal) *Static {
	copied := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		copied[symbol] = price
	}
	return &Static{prices: copied}
}

// SetPrice updates the fixed price for a symbol
func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// GetQuote returns the fixed quote for symbol
func (s *Static) GetQuote(symbol string) (models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	if !ok {
		return models.Quote{}, errs.ErrUnknownSymbol
	}
	return models.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}, nil
}
