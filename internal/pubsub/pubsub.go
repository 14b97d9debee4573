// Package pubsub implements the in-process event bus the engine publishes
// price ticks and trade confirmations on. Topics are plain strings built by
// the helpers below; subscriptions are explicit handles that must be torn
// down when a viewer goes away.
//
// Delivery is best-effort: publishing never blocks the publisher, and a
// subscriber whose buffer is full misses the event. Unsubscribe is
// synchronous — once it returns, no further event is delivered on the
// subscription's channel and the channel is closed.
package pubsub

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates the payload of an Event.
type EventType string

const (
	EventPriceTick EventType = "price_tick"
	EventTrade     EventType = "trade"
)

// Event is the message fan-out to subscribers. Price events carry
// InstrumentID and Price; trade events additionally carry the user, side,
// and quantity of the execution.
type Event struct {
	Type         EventType       `json:"type"`
	ScenarioID   string          `json:"scenario_id"`
	InstrumentID string          `json:"scenario_stock_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	OrderID      string          `json:"order_id,omitempty"`
	Side         string          `json:"side,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Price        decimal.Decimal `json:"price"`
	TS           time.Time       `json:"ts"`
}

// PriceTopic is the per-scenario price tick feed.
func PriceTopic(scenarioID string) string { return "prices:" + scenarioID }

// InstrumentTopic is the per-instrument price tick feed.
func InstrumentTopic(instrumentID string) string { return "ticks:" + instrumentID }

// TradeTopic is the per-scenario trade confirmation feed.
func TradeTopic(scenarioID string) string { return "trades:" + scenarioID }

// Bus is a topic-keyed fan-out. The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan Event)}
}

// Subscription is a cancellable registration on one topic. Read events from
// C; call Unsubscribe when done.
type Subscription struct {
	C <-chan Event

	bus   *Bus
	topic string
	id    int
	ch    chan Event
	once  sync.Once
}

// Subscribe registers for events on topic with the given channel buffer.
// A buffer of 0 is bumped to 1 so a single in-flight event never drops.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][b.nextID] = ch

	return &Subscription{C: ch, bus: b, topic: topic, id: b.nextID, ch: ch}
}

// Unsubscribe removes the registration and closes the channel. Safe to call
// more than once. Publishes hold the bus lock while sending, so after
// Unsubscribe returns no goroutine is sending on the channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if topicSubs, ok := s.bus.subs[s.topic]; ok {
			delete(topicSubs, s.id)
			if len(topicSubs) == 0 {
				delete(s.bus.subs, s.topic)
			}
		}
		close(s.ch)
	})
}

// Publish delivers ev to every subscriber of topic without blocking.
// Subscribers with full buffers are skipped.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			// Drop for this subscriber; publishing must not block trading.
		}
	}
}
