package markets

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

const candleInterval = 60 // seconds

// CandleBook keeps a rolling window of one-minute candles per symbol,
// built from the tick stream. History is in-memory only and reseeds on
// restart, which is fine for a simulated venue.
type CandleBook struct {
	mu    sync.Mutex
	limit int
	items map[string][]Candle
}

func NewCandleBook(limit int) *CandleBook {
	if limit <= 0 {
		limit = 500
	}
	return &CandleBook{limit: limit, items: make(map[string][]Candle)}
}

// Tick folds a price observation into the current minute bucket, opening a
// new candle when the bucket rolls over. It returns the affected candle.
func (b *CandleBook) Tick(symbol string, price decimal.Decimal, at time.Time) Candle {
	key := strings.ToUpper(symbol)
	bucket := at.Unix() - at.Unix()%candleInterval

	b.mu.Lock()
	defer b.mu.Unlock()

	series := b.items[key]
	if n := len(series); n > 0 && series[n-1].Time == bucket {
		last := &series[n-1]
		last.Close = price
		if price.GreaterThan(last.High) {
			last.High = price
		}
		if price.LessThan(last.Low) {
			last.Low = price
		}
		return *last
	}

	c := Candle{Time: bucket, Open: price, High: price, Low: price, Close: price}
	series = append(series, c)
	if len(series) > b.limit {
		series = series[len(series)-b.limit:]
	}
	b.items[key] = series
	return c
}

// History returns up to limit most recent candles, oldest first.
func (b *CandleBook) History(symbol string, limit int) []Candle {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	series := b.items[strings.ToUpper(symbol)]
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out
}
