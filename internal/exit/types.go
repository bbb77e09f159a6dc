// Package exit implements the per-position Exit Engine (spec.md §4.10):
// break-even, partial close, trailing stop (fixed_pips/atr/structure/
// volatility_adaptive), structural/time/commission/kill-switch exits.
// Every action is idempotent — an exit already applied to a plan is
// never reapplied.
//
// New package: the teacher's closest analogue is
// internal/strategy.SignalGenerator.ShouldExit, a single boolean
// TP/SL/RSI check with no partial/trailing/idempotency concept. The
// richer state machine here is written from spec.md §3/§4.10 in the
// teacher's decimal-first, mutex-guarded-state idiom (the same shape as
// internal/killswitch.Switch and internal/orderflow.Snapshotter).
package exit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/smc"
)

// TrailMode selects how the trailing stop advances once active.
type TrailMode string

const (
	TrailFixedPips          TrailMode = "fixed_pips"
	TrailATR                TrailMode = "atr"
	TrailStructure          TrailMode = "structure"
	TrailVolatilityAdaptive TrailMode = "volatility_adaptive"
)

// Plan is one Exit Plan, created when a trade opens.
type Plan struct {
	Ticket               string
	Symbol               string
	Direction            broker.Direction
	Volume               decimal.Decimal
	EntryPrice           decimal.Decimal
	StopLossInitial      decimal.Decimal
	TP1                  decimal.Decimal
	BreakEvenTriggerR    decimal.Decimal // multiple of initial risk R, default 1
	PartialClosePercent  decimal.Decimal
	TrailMode            TrailMode
	TrailValue           decimal.Decimal
	TimeLimit            time.Duration
	MinDwellBeforeCommissionExit time.Duration
	OpenedAt             time.Time
}

// initialRisk returns the absolute price distance between entry and the
// initial stop — the "1R" unit spec.md §3 requires break-even triggers
// to be expressed in.
func (p Plan) initialRisk() decimal.Decimal {
	return p.EntryPrice.Sub(p.StopLossInitial).Abs()
}

// unrealizedProfit returns the price-distance profit of price relative
// to entry, positive values favor the position's direction.
func (p Plan) unrealizedProfit(price decimal.Decimal) decimal.Decimal {
	if p.Direction == broker.DirectionBuy {
		return price.Sub(p.EntryPrice)
	}
	return p.EntryPrice.Sub(price)
}

// favorablyBeyond reports whether a is further in the position's favor
// than b (both expressed as absolute prices), used to ensure a trailing
// stop only ever tightens, never loosens.
func (p Plan) favorablyBeyond(a, b decimal.Decimal) bool {
	if p.Direction == broker.DirectionBuy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// reachedTP1 reports whether price has traded through TP1 in the
// position's favor.
func (p Plan) reachedTP1(price decimal.Decimal) bool {
	if p.TP1.IsZero() {
		return false
	}
	if p.Direction == broker.DirectionBuy {
		return price.GreaterThanOrEqual(p.TP1)
	}
	return price.LessThanOrEqual(p.TP1)
}

// ActionKind identifies what an Action asks the caller to do against the
// broker bridge.
type ActionKind string

const (
	ActionModifyStop   ActionKind = "modify_stop"
	ActionPartialClose ActionKind = "partial_close"
	ActionClose        ActionKind = "close"
)

// Action is one instruction the Exit Engine emits for the orchestrator
// to execute against internal/broker.
type Action struct {
	Ticket        string
	Kind          ActionKind
	NewStopLoss   decimal.Decimal
	ClosePercent  decimal.Decimal
	Reason        string
}

// EvalInput is the live market/account state an Evaluate call needs.
type EvalInput struct {
	Now                 time.Time
	CurrentPrice         decimal.Decimal
	ATR                  decimal.Decimal
	PipSize              decimal.Decimal
	StructureEvent       smc.StructureEvent
	StructureDirection   smc.Direction
	StructureSwingLevel  decimal.Decimal // most recent confirmed swing, for trailMode=structure
	VolatilityMultiplier decimal.Decimal // >1 widens the volatility_adaptive trail, 1 is neutral
	Commission           decimal.Decimal
	Swap                 decimal.Decimal
	UnrealizedProfitMoney decimal.Decimal
	KillSwitchArmed      bool
}
