// Package orderevent is the single entry point for broker lifecycle
// callbacks (spec.md §4.11): opened/closed/modified/partial/sl_hit/
// tp_hit. It deduplicates by (ticket, eventType, timestamp) since
// broker webhooks may be replayed, forgets the corresponding
// internal/exit.Plan on a terminal event, and publishes TradeOpened/
// TradeClosed on internal/events.Bus. TradeClosed is consumed by the
// orchestrator's realized-PnL tracker and the loss-streak state; the
// decision logger does not subscribe.
//
// New package (the teacher has no webhook ingestor — its fills arrive
// as direct return values from exchange order calls); the idempotent
// dedup-table shape is grounded on internal/decisionlog's
// ON CONFLICT-upsert idiom (itself grounded on
// Funky1981-jax-trading-assistant/libs/utcp/storage_postgres.go),
// applied here to in-memory ticket bookkeeping instead of a SQL table.
package orderevent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/events"
	"github.com/ictrader/engine/internal/logger"
)

// EventType enumerates the broker lifecycle callback kinds.
type EventType string

const (
	EventOpened   EventType = "opened"
	EventClosed   EventType = "closed"
	EventModified EventType = "modified"
	EventPartial  EventType = "partial"
	EventSLHit    EventType = "sl_hit"
	EventTPHit    EventType = "tp_hit"
)

// terminal reports whether an EventType represents a position leaving
// the book entirely.
func (e EventType) terminal() bool {
	return e == EventClosed || e == EventSLHit || e == EventTPHit
}

// OrderEvent is one broker lifecycle callback, per spec.md §3.
type OrderEvent struct {
	EventType  EventType
	Ticket     string
	PositionID string
	Symbol     string
	Direction  broker.Direction
	Volume     decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Commission decimal.Decimal
	Swap       decimal.Decimal
	Profit     decimal.Decimal
	Reason     string
	Raw        string
}

func (e OrderEvent) dedupKey() string {
	return fmt.Sprintf("%s|%s|%s", e.Ticket, e.EventType, e.ExitTime.Format(time.RFC3339Nano))
}

// ExitTracker is the subset of internal/exit.Engine the ingestor needs,
// so tests can substitute a fake without constructing a real engine.
type ExitTracker interface {
	Forget(ticket string)
}

// Ingestor is the single entry point broker callbacks are delivered to.
type Ingestor struct {
	bus  *events.Bus
	exit ExitTracker
	log  *logger.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewIngestor creates an Ingestor publishing to bus and forgetting exit
// plans on exit.
func NewIngestor(bus *events.Bus, exitTracker ExitTracker) *Ingestor {
	return &Ingestor{
		bus:  bus,
		exit: exitTracker,
		log:  logger.Component("orderevent"),
		seen: make(map[string]time.Time),
	}
}

// Ingest processes ev. It always returns nil to the caller per spec.md
// §4.11 ("always returns acknowledgement... errors are logged but not
// propagated, since events must not be replayed"); a duplicate delivery
// of the same (ticket, eventType, timestamp) is a silent no-op.
func (i *Ingestor) Ingest(ctx context.Context, ev OrderEvent) error {
	if i.alreadySeen(ev) {
		i.log.Info("duplicate order event ignored", "ticket", ev.Ticket, "event_type", ev.EventType)
		return nil
	}

	switch ev.EventType {
	case EventOpened:
		i.bus.PublishTradeOpened(ctx, events.TradeOpened{
			Ticket: ev.Ticket, Symbol: ev.Symbol, Direction: ev.Direction,
			Volume: ev.Volume, EntryPrice: ev.EntryPrice,
			StopLoss: ev.StopLoss, TakeProfit: ev.TakeProfit, OpenedAt: ev.EntryTime,
		})
	case EventClosed, EventSLHit, EventTPHit:
		i.bus.PublishTradeClosed(ctx, events.TradeClosed{
			Ticket: ev.Ticket, Symbol: ev.Symbol, Direction: ev.Direction,
			Volume: ev.Volume, EntryPrice: ev.EntryPrice, ExitPrice: ev.ExitPrice,
			Profit: ev.Profit, Commission: ev.Commission, Swap: ev.Swap,
			Reason: string(ev.EventType), ClosedAt: ev.ExitTime,
		})
		if i.exit != nil {
			i.exit.Forget(ev.Ticket)
		}
	case EventModified, EventPartial:
		// Stop/target or volume updates don't change realized PnL or
		// streak state; nothing downstream needs to react.
	}

	i.remember(ev)
	return nil
}

func (i *Ingestor) alreadySeen(ev OrderEvent) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[ev.dedupKey()]
	return ok
}

func (i *Ingestor) remember(ev OrderEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[ev.dedupKey()] = time.Now()
}
