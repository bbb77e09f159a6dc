// Package order holds the position/order-book snapshot shapes shared by
// internal/exposure. Trimmed from the teacher's internal/order, which
// also ran a live order-placement lifecycle against a crypto exchange
// interface (PlaceOrder/CancelOrder/monitor); that lifecycle has no home
// here because the broker bridge (internal/broker) owns trade execution
// directly via its five REST operations, per spec.md §1/§6. What
// remains is the snapshot-replace shape exposure needs to represent
// "what the broker currently reports as open".
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
)

// PositionSide mirrors the broker's long/short distinction.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ManagedPosition is the exposure layer's view of one open broker
// position, derived from broker.OpenPosition plus the estimated-risk
// computation in spec.md §4.7.
type ManagedPosition struct {
	Ticket        string
	Symbol        string
	Side          PositionSide
	EntryPrice    decimal.Decimal
	Volume        decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	EstimatedRisk decimal.Decimal
	OpenedAt      time.Time
}

// FromBrokerPosition converts a broker.OpenPosition into a
// ManagedPosition, leaving EstimatedRisk for the caller to fill in once
// pip value is known.
func FromBrokerPosition(p broker.OpenPosition) ManagedPosition {
	side := PositionSideLong
	if p.Direction == broker.DirectionSell {
		side = PositionSideShort
	}
	return ManagedPosition{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       side,
		EntryPrice: p.EntryPrice,
		Volume:     p.Volume,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		OpenedAt:   p.EntryTime,
	}
}

// Book is the point-in-time, atomically-replaced snapshot of every open
// position known to the broker, keyed by ticket. Grounded on the
// teacher's OrderBook snapshot-replace idiom (internal/order.OrderBook),
// trimmed to the read-only shape internal/exposure needs: no
// OpenOrders/FilledOrders/PendingOrders bookkeeping, since this engine
// never places orders locally.
type Book struct {
	Positions map[string]ManagedPosition
	AsOf      time.Time
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{Positions: make(map[string]ManagedPosition)}
}

// BySymbol returns every position open for symbol.
func (b *Book) BySymbol(symbol string) []ManagedPosition {
	out := make([]ManagedPosition, 0)
	for _, p := range b.Positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}
