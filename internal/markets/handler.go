package markets

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"simcex/internal/httputil"
	"simcex/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	store   *Store
	cache   *Cache
	candles *CandleBook
	sink    PriceSink
	log     *zap.Logger
}

func NewHandler(store *Store, cache *Cache, candles *CandleBook, log *zap.Logger) *Handler {
	return &Handler{store: store, cache: cache, candles: candles, log: log}
}

// SetSink mirrors Feed.SetSink for prices pushed through the internal API.
func (h *Handler) SetSink(sink PriceSink) {
	h.sink = sink
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list := h.cache.List()
	out := make([]model.Market, 0, len(list))
	for _, m := range list {
		if m.IsActive {
			out = append(out, m)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.cache.GetBySymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) Candles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if _, err := h.cache.GetBySymbol(symbol); err != nil {
		httputil.WriteError(w, err)
		return
	}
	interval := parseInterval(r.URL.Query().Get("timeframe"))
	if interval == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid timeframe"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	base := h.candles.History(symbol, 1000)
	out := trimCandles(aggregateCandles(base, interval), limit)
	httputil.WriteJSON(w, http.StatusOK, out)
}

type createMarketRequest struct {
	Symbol            string          `json:"symbol"`
	DisplayName       string          `json:"display_name"`
	BaseCurrency      string          `json:"base_currency"`
	QuoteCurrency     string          `json:"quote_currency"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	MinOrderAmount    decimal.Decimal `json:"min_order_amount"`
	MaxOrderAmount    decimal.Decimal `json:"max_order_amount"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
}

// Create registers a new market and puts it in the cache so the feed picks
// it up on its next tick.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" || req.BaseCurrency == "" || req.QuoteCurrency == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol, base_currency and quote_currency are required"})
		return
	}
	if !req.CurrentPrice.IsPositive() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "current_price must be positive"})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Symbol
	}
	m := model.Market{
		Symbol:            req.Symbol,
		DisplayName:       req.DisplayName,
		BaseCurrency:      strings.ToUpper(req.BaseCurrency),
		QuoteCurrency:     strings.ToUpper(req.QuoteCurrency),
		CurrentPrice:      req.CurrentPrice,
		High24h:           req.CurrentPrice,
		Low24h:            req.CurrentPrice,
		MinOrderAmount:    req.MinOrderAmount,
		MaxOrderAmount:    req.MaxOrderAmount,
		PricePrecision:    req.PricePrecision,
		QuantityPrecision: req.QuantityPrecision,
		IsActive:          true,
		IsTradingEnabled:  true,
	}
	created, err := h.store.Create(r.Context(), m)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.cache.Put(created)
	h.log.Info("market created", zap.String("symbol", created.Symbol), zap.Int64("market_id", created.ID))
	httputil.WriteJSON(w, http.StatusCreated, created)
}

type priceUpdateRequest struct {
	Price decimal.Decimal `json:"price"`
}

// UpdatePrice is the internal override used by ops tooling and tests to
// force a mark price instead of waiting on the feed.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceUpdateRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if !req.Price.IsPositive() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "price must be positive"})
		return
	}
	m, err := h.cache.GetBySymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.store.UpdatePrice(r.Context(), m.ID, req.Price.Round(m.PricePrecision))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.cache.Put(updated)
	h.candles.Tick(updated.Symbol, updated.CurrentPrice, time.Now().UTC())
	if h.sink != nil {
		h.sink.MarkMarket(r.Context(), updated.ID, updated.CurrentPrice)
	}
	h.log.Info("price override applied",
		zap.String("symbol", updated.Symbol),
		zap.String("price", updated.CurrentPrice.String()))
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func parseInterval(v string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 0
	}
}

func aggregateCandles(base []Candle, interval time.Duration) []Candle {
	if interval <= time.Minute {
		out := make([]Candle, len(base))
		copy(out, base)
		return out
	}
	step := int64(interval.Seconds())
	if len(base) == 0 {
		return nil
	}
	out := make([]Candle, 0, len(base))
	var cur Candle
	started := false
	for _, c := range base {
		b := c.Time - c.Time%step
		if !started || cur.Time != b {
			if started {
				out = append(out, cur)
			}
			cur = Candle{Time: b, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
			started = true
			continue
		}
		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
	}
	if started {
		out = append(out, cur)
	}
	return out
}

func trimCandles(candles []Candle, limit int) []Candle {
	if limit <= 0 {
		limit = 200
	}
	if len(candles) <= limit {
		return candles
	}
	return candles[len(candles)-limit:]
}
