package markets

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickerWS streams bus events (tickers and candle updates) to browser
// clients. One subscription per connection; a slow client just misses
// ticks, it never blocks the feed.
type TickerWS struct {
	bus      *Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewTickerWS(bus *Bus, origin string, log *zap.Logger) *TickerWS {
	return &TickerWS{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			if origin == "*" {
				return true
			}
			return strings.EqualFold(r.Header.Get("Origin"), origin)
		}},
	}
}

func (h *TickerWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-events:
			if symbol != "" && !strings.EqualFold(evt.Symbol, symbol) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
