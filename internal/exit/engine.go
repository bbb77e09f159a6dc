package exit

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/smc"
)

// Config bounds engine-wide defaults applied when a Plan leaves a field
// at its zero value, and toggles the optional kill-switch exit.
type Config struct {
	CloseAllOnKillSwitch bool
	StructuralExitTimeframe string // informational; orchestrator decides which timeframe's events to feed in
}

// DefaultConfig mirrors spec.md §6's exit.* defaults.
func DefaultConfig() Config {
	return Config{CloseAllOnKillSwitch: true}
}

const exitKindBreakEven = "break_even"
const exitKindPartial = "partial"
const exitKindStructural = "structural"
const exitKindTime = "time"
const exitKindCommission = "commission"
const exitKindKillSwitch = "kill_switch"
const exitKindClosed = "closed"

type tracked struct {
	plan            Plan
	applied         map[string]bool
	currentStopLoss decimal.Decimal
	trailingActive  bool
}

// Engine evaluates every registered Plan against live market state and
// emits the Actions the caller must execute against the broker bridge.
type Engine struct {
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	plans  map[string]*tracked
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		log:   logger.Component("exit"),
		plans: make(map[string]*tracked),
	}
}

// Register stores a new Exit Plan for ticket, opened per spec.md §4.10.
func (e *Engine) Register(plan Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans[plan.Ticket] = &tracked{
		plan:            plan,
		applied:         make(map[string]bool),
		currentStopLoss: plan.StopLossInitial,
	}
}

// Forget drops ticket's plan, e.g. once the order-event ingestor
// confirms the position is closed.
func (e *Engine) Forget(ticket string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.plans, ticket)
}

// Tracked reports whether ticket currently has a registered plan.
func (e *Engine) Tracked(ticket string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.plans[ticket]
	return ok
}

// Plans returns a snapshot of every currently registered plan, for the
// Runner to drive Evaluate against on each tick.
func (e *Engine) Plans() []Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Plan, 0, len(e.plans))
	for _, t := range e.plans {
		out = append(out, t.plan)
	}
	return out
}

// Evaluate checks ticket's plan against in and returns every Action that
// should be applied now. Once a close action is emitted, no further
// exits are evaluated for that call; a full close also removes the plan
// so later calls are no-ops.
func (e *Engine) Evaluate(ticket string, in EvalInput) []Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.plans[ticket]
	if !ok {
		return nil
	}
	if t.applied[exitKindClosed] {
		return nil
	}

	var actions []Action

	if e.cfg.CloseAllOnKillSwitch && in.KillSwitchArmed && !t.applied[exitKindKillSwitch] {
		t.applied[exitKindKillSwitch] = true
		t.applied[exitKindClosed] = true
		delete(e.plans, ticket)
		return []Action{{Ticket: ticket, Kind: ActionClose, Reason: "kill switch armed for this scope"}}
	}

	if t.plan.TimeLimit > 0 && !t.applied[exitKindTime] && in.Now.Sub(t.plan.OpenedAt) >= t.plan.TimeLimit {
		t.applied[exitKindTime] = true
		t.applied[exitKindClosed] = true
		delete(e.plans, ticket)
		return []Action{{Ticket: ticket, Kind: ActionClose, Reason: "time limit reached"}}
	}

	if !t.applied[exitKindStructural] && in.StructureEvent == smc.BOS && in.StructureDirection == t.oppositeBias() {
		t.applied[exitKindStructural] = true
		t.applied[exitKindClosed] = true
		delete(e.plans, ticket)
		return []Action{{Ticket: ticket, Kind: ActionClose, Reason: "opposite-direction break of structure"}}
	}

	if !t.applied[exitKindCommission] && t.plan.MinDwellBeforeCommissionExit > 0 &&
		in.Now.Sub(t.plan.OpenedAt) >= t.plan.MinDwellBeforeCommissionExit {
		costs := in.Commission.Add(in.Swap).Abs()
		if in.UnrealizedProfitMoney.Abs().LessThan(costs) {
			t.applied[exitKindCommission] = true
			t.applied[exitKindClosed] = true
			delete(e.plans, ticket)
			return []Action{{Ticket: ticket, Kind: ActionClose, Reason: "profit below commission and swap cost"}}
		}
	}

	if !t.applied[exitKindBreakEven] {
		risk := t.plan.initialRisk()
		trigger := t.plan.BreakEvenTriggerR
		if trigger.IsZero() {
			trigger = decimal.NewFromInt(1)
		}
		if risk.IsPositive() && t.plan.unrealizedProfit(in.CurrentPrice).GreaterThanOrEqual(risk.Mul(trigger)) {
			t.applied[exitKindBreakEven] = true
			t.currentStopLoss = t.plan.EntryPrice
			actions = append(actions, Action{Ticket: ticket, Kind: ActionModifyStop, NewStopLoss: t.currentStopLoss, Reason: "break-even trigger reached"})
		}
	}

	if !t.applied[exitKindPartial] && t.plan.reachedTP1(in.CurrentPrice) {
		t.applied[exitKindPartial] = true
		t.trailingActive = true
		pct := t.plan.PartialClosePercent
		if pct.IsZero() {
			pct = decimal.NewFromInt(50)
		}
		actions = append(actions, Action{Ticket: ticket, Kind: ActionPartialClose, ClosePercent: pct, Reason: "TP1 reached"})
	}

	if t.trailingActive {
		if newStop, ok := t.nextTrailStop(in); ok {
			t.currentStopLoss = newStop
			actions = append(actions, Action{Ticket: ticket, Kind: ActionModifyStop, NewStopLoss: newStop, Reason: "trailing stop advance"})
		}
	}

	return actions
}

// oppositeBias returns the directional bias opposite the plan's trade
// direction, used to detect a structural exit's triggering BOS.
func (t *tracked) oppositeBias() smc.Direction {
	if t.plan.Direction == broker.DirectionBuy {
		return smc.Bearish
	}
	return smc.Bullish
}

// nextTrailStop computes the candidate new stop for the active trail
// mode. It returns ok=false when the candidate would loosen the stop
// rather than tighten it.
func (t *tracked) nextTrailStop(in EvalInput) (decimal.Decimal, bool) {
	var distance decimal.Decimal

	switch t.plan.TrailMode {
	case TrailFixedPips:
		if in.PipSize.IsZero() {
			return decimal.Zero, false
		}
		distance = t.plan.TrailValue.Mul(in.PipSize)
	case TrailATR:
		distance = t.plan.TrailValue.Mul(in.ATR)
	case TrailVolatilityAdaptive:
		mult := in.VolatilityMultiplier
		if mult.IsZero() {
			mult = decimal.NewFromInt(1)
		}
		distance = t.plan.TrailValue.Mul(in.ATR).Mul(mult)
	case TrailStructure:
		if in.StructureSwingLevel.IsZero() {
			return decimal.Zero, false
		}
		if t.plan.favorablyBeyond(in.StructureSwingLevel, t.currentStopLoss) {
			return in.StructureSwingLevel, true
		}
		return decimal.Zero, false
	default:
		return decimal.Zero, false
	}

	if !distance.IsPositive() {
		return decimal.Zero, false
	}

	var candidate decimal.Decimal
	if t.plan.Direction == broker.DirectionBuy {
		candidate = in.CurrentPrice.Sub(distance)
	} else {
		candidate = in.CurrentPrice.Add(distance)
	}

	if !t.plan.favorablyBeyond(candidate, t.currentStopLoss) {
		return decimal.Zero, false
	}
	return candidate, true
}
