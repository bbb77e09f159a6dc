package exit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/smc"
)

func basePlan() Plan {
	return Plan{
		Ticket:              "t1",
		Symbol:              "EURUSD",
		Direction:           broker.DirectionBuy,
		Volume:              decimal.NewFromFloat(1),
		EntryPrice:          decimal.NewFromFloat(1.1000),
		StopLossInitial:     decimal.NewFromFloat(1.0980),
		TP1:                 decimal.NewFromFloat(1.1040),
		BreakEvenTriggerR:   decimal.NewFromInt(1),
		PartialClosePercent: decimal.NewFromInt(50),
		TrailMode:           TrailFixedPips,
		TrailValue:          decimal.NewFromInt(10),
		OpenedAt:            time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_BreakEvenTriggersAtOneR(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{
		Now:          basePlan().OpenedAt.Add(time.Minute),
		CurrentPrice: decimal.NewFromFloat(1.1021),
		PipSize:      decimal.NewFromFloat(0.0001),
	})

	require.Len(t, actions, 1)
	assert.Equal(t, ActionModifyStop, actions[0].Kind)
	assert.True(t, actions[0].NewStopLoss.Equal(decimal.NewFromFloat(1.1000)))
}

func TestEvaluate_BreakEvenNotAppliedTwice(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())
	in := EvalInput{Now: basePlan().OpenedAt.Add(time.Minute), CurrentPrice: decimal.NewFromFloat(1.1025), PipSize: decimal.NewFromFloat(0.0001)}

	first := e.Evaluate("t1", in)
	require.NotEmpty(t, first)

	second := e.Evaluate("t1", in)
	for _, a := range second {
		assert.NotEqual(t, "break-even trigger reached", a.Reason)
	}
}

func TestEvaluate_PartialCloseAtTP1(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{
		Now:          basePlan().OpenedAt.Add(time.Minute),
		CurrentPrice: decimal.NewFromFloat(1.1045),
		PipSize:      decimal.NewFromFloat(0.0001),
	})

	var kinds []ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, ActionPartialClose)
}

func TestEvaluate_TrailingAdvancesAfterPartialButNeverLoosens(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	e.Evaluate("t1", EvalInput{Now: basePlan().OpenedAt.Add(time.Minute), CurrentPrice: decimal.NewFromFloat(1.1045), PipSize: decimal.NewFromFloat(0.0001)})

	advance := e.Evaluate("t1", EvalInput{Now: basePlan().OpenedAt.Add(2 * time.Minute), CurrentPrice: decimal.NewFromFloat(1.1060), PipSize: decimal.NewFromFloat(0.0001)})
	require.NotEmpty(t, advance)
	firstStop := advance[0].NewStopLoss

	retreat := e.Evaluate("t1", EvalInput{Now: basePlan().OpenedAt.Add(3 * time.Minute), CurrentPrice: decimal.NewFromFloat(1.1050), PipSize: decimal.NewFromFloat(0.0001)})
	for _, a := range retreat {
		if a.Kind == ActionModifyStop {
			assert.True(t, a.NewStopLoss.GreaterThanOrEqual(firstStop), "trailing stop must never loosen on a pullback")
		}
	}
}

func TestEvaluate_TrailVolatilityAdaptiveScalesByMultiplier(t *testing.T) {
	newPlan := func(mode TrailMode) Plan {
		p := basePlan()
		p.TrailMode = mode
		p.TrailValue = decimal.NewFromFloat(2)
		return p
	}

	activate := func(e *Engine) {
		e.Evaluate("t1", EvalInput{
			Now:          basePlan().OpenedAt.Add(time.Minute),
			CurrentPrice: decimal.NewFromFloat(1.1045),
			PipSize:      decimal.NewFromFloat(0.0001),
		})
	}

	atrEngine := NewEngine(DefaultConfig())
	atrEngine.Register(newPlan(TrailATR))
	activate(atrEngine)
	atrActions := atrEngine.Evaluate("t1", EvalInput{
		Now: basePlan().OpenedAt.Add(2 * time.Minute), CurrentPrice: decimal.NewFromFloat(1.1100),
		ATR: decimal.NewFromFloat(0.0010), VolatilityMultiplier: decimal.NewFromInt(1),
	})

	adaptiveEngine := NewEngine(DefaultConfig())
	adaptiveEngine.Register(newPlan(TrailVolatilityAdaptive))
	activate(adaptiveEngine)
	adaptiveActions := adaptiveEngine.Evaluate("t1", EvalInput{
		Now: basePlan().OpenedAt.Add(2 * time.Minute), CurrentPrice: decimal.NewFromFloat(1.1100),
		ATR: decimal.NewFromFloat(0.0010), VolatilityMultiplier: decimal.NewFromInt(3),
	})

	var atrStop, adaptiveStop decimal.Decimal
	for _, a := range atrActions {
		if a.Kind == ActionModifyStop && a.Reason == "trailing stop advance" {
			atrStop = a.NewStopLoss
		}
	}
	for _, a := range adaptiveActions {
		if a.Kind == ActionModifyStop && a.Reason == "trailing stop advance" {
			adaptiveStop = a.NewStopLoss
		}
	}

	require.False(t, atrStop.IsZero(), "expected ATR trail to advance the stop")
	require.False(t, adaptiveStop.IsZero(), "expected volatility_adaptive trail to advance the stop")
	assert.True(t, atrStop.Equal(decimal.NewFromFloat(1.1080)), "ATR trail distance should be TrailValue*ATR, got %s", atrStop)
	assert.True(t, adaptiveStop.Equal(decimal.NewFromFloat(1.1040)), "volatility_adaptive trail distance should be TrailValue*ATR*multiplier, got %s", adaptiveStop)
	assert.False(t, atrStop.Equal(adaptiveStop), "volatility_adaptive must diverge from atr trailing once the multiplier is not 1")
}

func TestEvaluate_TimeExitClosesAndForgetsPlan(t *testing.T) {
	plan := basePlan()
	plan.TimeLimit = time.Hour
	e := NewEngine(DefaultConfig())
	e.Register(plan)

	actions := e.Evaluate("t1", EvalInput{Now: plan.OpenedAt.Add(2 * time.Hour), CurrentPrice: decimal.NewFromFloat(1.1000)})
	require.Len(t, actions, 1)
	assert.Equal(t, ActionClose, actions[0].Kind)
	assert.False(t, e.Tracked("t1"))
}

func TestEvaluate_StructuralExitOnOppositeBOS(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{
		Now:                basePlan().OpenedAt.Add(time.Minute),
		CurrentPrice:       decimal.NewFromFloat(1.1005),
		StructureEvent:     smc.BOS,
		StructureDirection: smc.Bearish,
	})

	require.Len(t, actions, 1)
	assert.Equal(t, ActionClose, actions[0].Kind)
	assert.Equal(t, "opposite-direction break of structure", actions[0].Reason)
}

func TestEvaluate_SameDirectionBOSDoesNotClose(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{
		Now:                basePlan().OpenedAt.Add(time.Minute),
		CurrentPrice:       decimal.NewFromFloat(1.1005),
		StructureEvent:     smc.BOS,
		StructureDirection: smc.Bullish,
	})

	for _, a := range actions {
		assert.NotEqual(t, ActionClose, a.Kind)
	}
}

func TestEvaluate_CommissionExitAfterMinDwell(t *testing.T) {
	plan := basePlan()
	plan.MinDwellBeforeCommissionExit = 10 * time.Minute
	e := NewEngine(DefaultConfig())
	e.Register(plan)

	actions := e.Evaluate("t1", EvalInput{
		Now:                   plan.OpenedAt.Add(20 * time.Minute),
		CurrentPrice:          decimal.NewFromFloat(1.1002),
		Commission:            decimal.NewFromFloat(2),
		Swap:                  decimal.NewFromFloat(0.5),
		UnrealizedProfitMoney: decimal.NewFromFloat(1.0),
	})

	require.Len(t, actions, 1)
	assert.Equal(t, ActionClose, actions[0].Kind)
}

func TestEvaluate_KillSwitchClosesImmediately(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{Now: basePlan().OpenedAt, CurrentPrice: decimal.NewFromFloat(1.1000), KillSwitchArmed: true})
	require.Len(t, actions, 1)
	assert.Equal(t, ActionClose, actions[0].Kind)
	assert.False(t, e.Tracked("t1"))
}

func TestEvaluate_KillSwitchExitDisabledByConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CloseAllOnKillSwitch = false
	e := NewEngine(cfg)
	e.Register(basePlan())

	actions := e.Evaluate("t1", EvalInput{Now: basePlan().OpenedAt, CurrentPrice: decimal.NewFromFloat(1.1000), KillSwitchArmed: true})
	for _, a := range actions {
		assert.NotEqual(t, "kill switch armed for this scope", a.Reason)
	}
}

func TestEvaluate_UnknownTicketReturnsNil(t *testing.T) {
	e := NewEngine(DefaultConfig())
	actions := e.Evaluate("missing", EvalInput{})
	assert.Nil(t, actions)
}

func TestForget_RemovesPlanFromTracking(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(basePlan())
	require.True(t, e.Tracked("t1"))

	e.Forget("t1")
	assert.False(t, e.Tracked("t1"))
}
