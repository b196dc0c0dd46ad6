package markets

import (
	"context"
	"strings"
	"sync"

	"simcex/internal/model"

	"github.com/shopspring/decimal"
)

// Cache is the in-process market snapshot read by valuation and trading
// paths. It is the single authority for "current price": the feed and the
// internal price-update endpoint write through it, everything else reads.
type Cache struct {
	mu       sync.RWMutex
	byID     map[int64]model.Market
	bySymbol map[string]model.Market
}

func NewCache() *Cache {
	return &Cache{
		byID:     make(map[int64]model.Market),
		bySymbol: make(map[string]model.Market),
	}
}

// Load primes the cache from the catalog store.
func (c *Cache) Load(ctx context.Context, store *Store) error {
	list, err := store.List(ctx, false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, m := range list {
		c.byID[m.ID] = m
		c.bySymbol[strings.ToUpper(m.Symbol)] = m
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Put(m model.Market) {
	c.mu.Lock()
	c.byID[m.ID] = m
	c.bySymbol[strings.ToUpper(m.Symbol)] = m
	c.mu.Unlock()
}

func (c *Cache) GetByID(id int64) (model.Market, error) {
	c.mu.RLock()
	m, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return model.Market{}, &model.NotFoundError{Entity: "market", ID: decimal.NewFromInt(id).String()}
	}
	return m, nil
}

func (c *Cache) GetBySymbol(symbol string) (model.Market, error) {
	c.mu.RLock()
	m, ok := c.bySymbol[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	if !ok {
		return model.Market{}, &model.NotFoundError{Entity: "market", ID: symbol}
	}
	return m, nil
}

func (c *Cache) List() []model.Market {
	c.mu.RLock()
	out := make([]model.Market, 0, len(c.byID))
	for _, m := range c.byID {
		out = append(out, m)
	}
	c.mu.RUnlock()
	return out
}

// QuoteUSD resolves a currency to its USD price through the (currency/USDT)
// market, falling back to (currency/USDC). USD stables quote at one; a
// currency with no USD pair reports ok=false and values at zero upstream.
func (c *Cache) QuoteUSD(_ context.Context, currency string) (decimal.Decimal, bool) {
	switch currency {
	case "USD", "USDT", "USDC":
		return decimal.NewFromInt(1), true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, quote := range []string{"USDT", "USDC"} {
		for _, m := range c.byID {
			if m.BaseCurrency == currency && m.QuoteCurrency == quote && m.CurrentPrice.IsPositive() {
				return m.CurrentPrice, true
			}
		}
	}
	return decimal.Zero, false
}
