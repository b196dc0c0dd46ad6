package markets

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSink receives every accepted price change, in market order. The
// position marker hangs off this to re-value open positions and trigger
// stop-loss / take-profit / liquidation checks.
type PriceSink interface {
	MarkMarket(ctx context.Context, marketID int64, price decimal.Decimal)
}

// Feed drives the simulated tape: a mean-reverting random walk per market,
// persisted through the catalog store and fanned out over the bus.
type Feed struct {
	store    *Store
	cache    *Cache
	bus      *Bus
	candles  *CandleBook
	log      *zap.Logger
	interval time.Duration
	rng      *rand.Rand

	mu   sync.Mutex
	sink PriceSink
}

func NewFeed(store *Store, cache *Cache, bus *Bus, candles *CandleBook, interval time.Duration, log *zap.Logger) *Feed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Feed{
		store:    store,
		cache:    cache,
		bus:      bus,
		candles:  candles,
		log:      log,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSink attaches the position marker. Wired after construction because the
// position service itself reads prices from the cache the feed writes.
func (f *Feed) SetSink(sink PriceSink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

// Start runs the feed loop until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.tickAll(ctx)
			}
		}
	}()
}

func (f *Feed) tickAll(ctx context.Context) {
	now := time.Now().UTC()
	for _, m := range f.cache.List() {
		if !m.IsActive {
			continue
		}
		next := f.nextPrice(m.CurrentPrice, m.PricePrecision, now)
		if next.Equal(m.CurrentPrice) {
			continue
		}

		updated, err := f.store.UpdatePrice(ctx, m.ID, next)
		if err != nil {
			f.log.Warn("feed price update failed", zap.String("symbol", m.Symbol), zap.Error(err))
			continue
		}
		f.cache.Put(updated)

		candle := f.candles.Tick(updated.Symbol, updated.CurrentPrice, now)
		f.bus.Publish(Event{Type: EventTicker, Symbol: updated.Symbol, Data: TickerUpdate{
			Symbol:         updated.Symbol,
			Price:          updated.CurrentPrice,
			PriceChange24h: updated.PriceChange24h,
			ChangePct24h:   updated.PriceChangePct24h,
			Timestamp:      now.UnixMilli(),
		}})
		f.bus.Publish(Event{Type: EventCandle, Symbol: updated.Symbol, Data: candle})

		f.mu.Lock()
		sink := f.sink
		f.mu.Unlock()
		if sink != nil {
			sink.MarkMarket(ctx, updated.ID, updated.CurrentPrice)
		}
	}
}

// nextPrice applies one random-walk step. Volatility breathes with the UTC
// session so the tape looks alive around market-hours overlap.
func (f *Feed) nextPrice(prev decimal.Decimal, precision int32, now time.Time) decimal.Decimal {
	if !prev.IsPositive() {
		return prev
	}
	p, _ := prev.Float64()
	vol := 0.0012 * sessionMult(now.Hour())
	step := p * vol * f.randNorm()
	next := p + step
	floor := p * 0.95
	if next < floor {
		next = floor + math.Abs(step)
	}
	out := decimal.NewFromFloat(next).Round(precision)
	if !out.IsPositive() {
		return prev
	}
	return out
}

func sessionMult(hour int) float64 {
	switch {
	case hour >= 7 && hour < 11:
		return 1.6
	case hour >= 13 && hour < 17:
		return 2.0
	case hour >= 17 && hour < 21:
		return 1.3
	default:
		return 0.7
	}
}

func (f *Feed) randNorm() float64 {
	u1 := f.rng.Float64() + 1e-9
	u2 := f.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

type TickerUpdate struct {
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	ChangePct24h   decimal.Decimal `json:"price_change_pct_24h"`
	Timestamp      int64           `json:"timestamp"`
}
