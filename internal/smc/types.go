// Package smc implements the SMC/ICT signal generator: HTF swing-structure
// bias, an M15 displacement/FVG/order-block setup zone, and an M1
// refinement step that produces a TradeSignal or a typed rejection
// reason. Grounded on the teacher's indicator-evaluation shape
// (internal/strategy, now internal/indicators) generalized from a
// classic-TA strategy to structure-based SMC logic; no teacher file
// implements SMC concepts directly, so the pivot/BOS/CHoCH/FVG/OB
// primitives below are written from spec.md §4.4's definitions using the
// teacher's decimal-first, typed-struct idiom.
package smc

import (
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/market"
)

// Direction is a trend or trade direction.
type Direction string

const (
	Bullish  Direction = "bullish"
	Bearish  Direction = "bearish"
	Sideways Direction = "sideways"
)

// Opposite returns the opposing directional bias; Sideways maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Sideways
	}
}

// StructureEvent is a Break-of-Structure or Change-of-Character detected
// at a swing pivot.
type StructureEvent string

const (
	BOS   StructureEvent = "BOS"
	CHoCH StructureEvent = "CHoCH"
	None  StructureEvent = ""
)

// SwingPivot is a three-candle pivot high or low.
type SwingPivot struct {
	Index     int
	Price     decimal.Decimal
	IsHigh    bool
	Candle    market.Candle
}

// FVG is a Fair Value Gap: a three-candle imbalance left behind by a
// displacement move.
type FVG struct {
	Direction Direction
	High      decimal.Decimal
	Low       decimal.Decimal
	CreatedAt market.Candle
}

// Mid returns the 50% equilibrium level of the gap.
func (f FVG) Mid() decimal.Decimal {
	return f.High.Add(f.Low).Div(decimal.NewFromInt(2))
}

// OrderBlock is the last opposite-direction candle immediately preceding
// a displacement move.
type OrderBlock struct {
	Direction Direction
	High      decimal.Decimal
	Low       decimal.Decimal
	Open      decimal.Decimal
	Close     decimal.Decimal
	Candle    market.Candle
}

// EntryAnchor returns the order block's entry price for direction: the
// low for a long (buying the dip into a bullish OB) or the high for a
// short, per spec.md §4.4 step 3.
func (ob OrderBlock) EntryAnchor(dir Direction) decimal.Decimal {
	if dir == Bullish {
		return ob.Low
	}
	return ob.High
}

// Zone is a candidate setup zone: an FVG when available, else an OB,
// per spec.md §4.4 step 2 ("setup zone = FVG preferred, else OB").
type Zone struct {
	FVG        *FVG
	OrderBlock *OrderBlock
}

// Bounds returns the zone's [low, high] price band, from whichever of
// FVG/OrderBlock is populated.
func (z Zone) Bounds() (low, high decimal.Decimal) {
	if z.FVG != nil {
		return z.FVG.Low, z.FVG.High
	}
	if z.OrderBlock != nil {
		return z.OrderBlock.Low, z.OrderBlock.High
	}
	return decimal.Zero, decimal.Zero
}

// Contains reports whether price is inside the zone, extended by buffer
// on each side.
func (z Zone) Contains(price, buffer decimal.Decimal) bool {
	low, high := z.Bounds()
	if low.IsZero() && high.IsZero() {
		return false
	}
	return price.GreaterThanOrEqual(low.Sub(buffer)) && price.LessThanOrEqual(high.Add(buffer))
}

// PremiumDiscount classifies where price sits within a structural range.
type PremiumDiscount string

const (
	Premium    PremiumDiscount = "premium"
	Discount   PremiumDiscount = "discount"
	Equilibrium PremiumDiscount = "equilibrium"
)

// TimeframeContext carries the HTF/LTF structural readings that fed a
// RawSignal, per spec.md §3.
type TimeframeContext struct {
	HTFTimeframe market.Timeframe
	HTFTrend     Direction
	LTFTimeframe market.Timeframe
	LTFStructure StructureEvent
	LastBOS      Direction
	LastCHoCH    Direction
}

// SignalMeta carries every piece of SMC metadata a TradeSignal's
// downstream consumers (Execution Filter gates 4-13) need, per spec.md §3.
type SignalMeta struct {
	HTFTrend              Direction
	Structure             StructureEvent
	StructureDirection    Direction
	FVG                   *FVG
	OrderBlockZone        *OrderBlock
	PremiumDiscount       PremiumDiscount
	VolumeImbalanceAligned bool
	Session               string
	ConfluenceScore       int
	DisplacementCandle    bool
	LiquiditySwept        bool
	Reasons               []string
}

// TradeSignal is the generator's successful output, per spec.md §3.
type TradeSignal struct {
	Symbol        string
	Direction     Direction
	Entry         decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	OrderKind     broker.OrderKind
	Reason        string
	Meta          SignalMeta
}

// RawSignal is the single input to the Execution Filter: a TradeSignal
// plus the timeframe context it was derived from.
type RawSignal struct {
	Signal           TradeSignal
	TimeframeContext TimeframeContext
	SMCMetadata      SignalMeta
}
