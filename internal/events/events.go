// Package events implements the one-directional event bus called out in
// spec.md §9: the Order-Event Ingestor publishes TradeOpened/TradeClosed,
// and the equity tracker, loss-streak state and decision logger
// subscribe and react — breaking the cyclic
// OrderEventService -> LivePnlService -> LossStreakFilterService ->
// ExecutionFilter dependency the original design had. The Execution
// Filter never subscribes; it only reads loss-streak state through
// internal/lossstreak's query API.
//
// Event payload shapes are adapted from FOTONPHOTOS-PULSEINTEL's
// internal/events (exchange trade-tape/candle event structs) to this
// engine's order-lifecycle domain; the publish/subscribe mechanism
// itself is new, using the same mutex-guarded-map-of-channels shape as
// internal/orderflow.Snapshotter's cached-state idiom.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/logger"
)

// Topic names the kind of event flowing through the bus.
type Topic string

const (
	TopicTradeOpened Topic = "trade_opened"
	TopicTradeClosed Topic = "trade_closed"
)

// TradeOpened is published when the order-event ingestor confirms a new
// position is live.
type TradeOpened struct {
	Ticket     string
	Symbol     string
	Direction  broker.Direction
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	OpenedAt   time.Time
}

// TradeClosed is published when the order-event ingestor confirms a
// position closed, sl_hit, or tp_hit.
type TradeClosed struct {
	Ticket     string
	Symbol     string
	Direction  broker.Direction
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Profit     decimal.Decimal
	Commission decimal.Decimal
	Swap       decimal.Decimal
	Reason     string
	ClosedAt   time.Time
}

// subscriber is one registered channel for a topic.
type subscriber struct {
	id string
	ch chan any
}

// Bus fans published events out to every subscriber of a topic. Slow
// subscribers never block a publish: the bus drops an event for a
// subscriber whose channel is full rather than stall the ingestor,
// logging the drop for operator visibility.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]subscriber
	log  *logger.Logger
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Topic][]subscriber),
		log:  logger.Component("events"),
	}
}

// SubscribeTradeOpened registers a buffered channel for TopicTradeOpened
// and returns it along with an unsubscribe function.
func (b *Bus) SubscribeTradeOpened(id string, buffer int) (<-chan TradeOpened, func()) {
	raw, unsub := b.subscribe(TopicTradeOpened, id, buffer)
	out := make(chan TradeOpened, buffer)
	go relay(raw, out)
	return out, unsub
}

// SubscribeTradeClosed registers a buffered channel for TopicTradeClosed
// and returns it along with an unsubscribe function.
func (b *Bus) SubscribeTradeClosed(id string, buffer int) (<-chan TradeClosed, func()) {
	raw, unsub := b.subscribe(TopicTradeClosed, id, buffer)
	out := make(chan TradeClosed, buffer)
	go relay(raw, out)
	return out, unsub
}

// relay forwards typed values out of the bus's untyped channel until it
// closes, then closes the typed output channel.
func relay[T any](raw <-chan any, out chan<- T) {
	defer close(out)
	for v := range raw {
		if typed, ok := v.(T); ok {
			out <- typed
		}
	}
}

func (b *Bus) subscribe(topic Topic, id string, buffer int) (chan any, func()) {
	ch := make(chan any, buffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, ch: ch})
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.ch == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub
}

// PublishTradeOpened fans out ev to every TopicTradeOpened subscriber.
func (b *Bus) PublishTradeOpened(ctx context.Context, ev TradeOpened) {
	b.publish(TopicTradeOpened, ev)
}

// PublishTradeClosed fans out ev to every TopicTradeClosed subscriber.
func (b *Bus) PublishTradeClosed(ctx context.Context, ev TradeClosed) {
	b.publish(TopicTradeClosed, ev)
}

func (b *Bus) publish(topic Topic, ev any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			b.log.Warn("dropping event for slow subscriber", "topic", topic, "subscriber", s.id)
		}
	}
}
