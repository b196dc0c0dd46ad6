package markets

import (
	"sync"
)

type EventType string

const (
	EventTicker EventType = "ticker"
	EventCandle EventType = "candle"
)

// Event is one bus message. Symbol rides outside Data so subscribers can
// filter without knowing the payload type.
type Event struct {
	Type   EventType `json:"type"`
	Symbol string    `json:"symbol"`
	Data   any       `json:"data"`
}

// Bus fans market events out to WebSocket subscribers. Slow subscribers drop
// events instead of blocking the feed.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
