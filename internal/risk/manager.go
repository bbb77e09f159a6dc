// Package risk implements the Risk Service from spec.md §4.6:
// canTakeNewTrade/isSpreadAcceptable/positionSize, daily-loss and
// trade-count guardrails, and per-symbol risk-percent overrides.
//
// Grounded on the teacher's internal/risk/manager.go (mutex-guarded
// daily-PnL/trade-count state, consecutive-loss cooldown, daily reset),
// generalized from a single-account/single-strategy manager to the
// spec's RiskContext-per-call, per-strategy daily caps and per-symbol
// risk-percent overrides. Libs: shopspring/decimal.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/pipvalue"
)

// Config holds the Risk Service's guardrail configuration.
type Config struct {
	DailyLossCapPercent  decimal.Decimal // block new trades once today's realized PnL <= -equity*this%
	DefaultRiskPercent   decimal.Decimal // per-trade risk % of equity, strategy default
	ReducedRiskFactor    decimal.Decimal // multiplier applied to risk% when guardrailMode=reduced, e.g. 0.5
	StrategyDailyTradeCap int            // max trades per strategy per day
	SymbolRiskPercent    map[string]decimal.Decimal // per-symbol override, precedence over DefaultRiskPercent
	SymbolMaxSpreadPips  map[string]decimal.Decimal // per-symbol max spread, used only when the caller opts in
	LotStep              decimal.Decimal            // broker minimum lot increment, lot sizes round down to this
	MinLotSize           decimal.Decimal
}

// DefaultConfig returns conservative defaults, XAUUSD given a smaller
// default risk% per spec.md §4.6's "e.g. XAUUSD uses a smaller default".
func DefaultConfig() *Config {
	return &Config{
		DailyLossCapPercent:   decimal.NewFromFloat(3),
		DefaultRiskPercent:    decimal.NewFromFloat(1),
		ReducedRiskFactor:     decimal.NewFromFloat(0.5),
		StrategyDailyTradeCap: 10,
		SymbolRiskPercent: map[string]decimal.Decimal{
			"XAUUSD": decimal.NewFromFloat(0.5),
		},
		SymbolMaxSpreadPips: map[string]decimal.Decimal{
			"EURUSD": decimal.NewFromFloat(2),
			"GBPUSD": decimal.NewFromFloat(2.5),
			"AUDUSD": decimal.NewFromFloat(2),
			"USDJPY": decimal.NewFromFloat(2),
			"XAUUSD": decimal.NewFromFloat(30),
		},
		LotStep:    decimal.NewFromFloat(0.01),
		MinLotSize: decimal.NewFromFloat(0.01),
	}
}

// RequestContext is the per-call input to canTakeNewTrade/positionSize,
// supplied fresh by the orchestrator for each tick evaluation.
type RequestContext struct {
	Strategy             string
	Symbol               string
	GuardrailMode        string // "", "reduced", or any mode the Execution Filter also checks
	TodayRealizedPnL     decimal.Decimal
	AccountEquity        decimal.Decimal
	TradesTakenTodayByStrategy int
}

// Decision is canTakeNewTrade's result.
type Decision struct {
	Allowed             bool
	Reason              string
	AdjustedRiskPercent decimal.Decimal
}

// Manager evaluates trade permission and position sizing against the
// configured guardrails. Stateless across calls aside from configuration:
// daily PnL and trade counts are supplied by the caller (the orchestrator
// keeps that bookkeeping per strategy), matching spec.md §4.6's
// ctx-driven design rather than the teacher's internally tracked ledger.
type Manager struct {
	mu     sync.RWMutex
	cfg    *Config
	pips   *pipvalue.Table
}

// NewManager creates a Manager.
func NewManager(cfg *Config, pips *pipvalue.Table) *Manager {
	return &Manager{cfg: cfg, pips: pips}
}

// CanTakeNewTrade implements spec.md §4.6's canTakeNewTrade(ctx).
func (m *Manager) CanTakeNewTrade(ctx RequestContext) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cap := ctx.AccountEquity.Mul(m.cfg.DailyLossCapPercent).Div(decimal.NewFromInt(100)).Neg()
	if ctx.TodayRealizedPnL.LessThanOrEqual(cap) {
		return Decision{Allowed: false, Reason: "daily loss cap reached"}
	}

	if ctx.TradesTakenTodayByStrategy >= m.cfg.StrategyDailyTradeCap {
		return Decision{Allowed: false, Reason: "strategy daily trade cap reached"}
	}

	riskPct := m.riskPercentFor(ctx.Symbol)
	if ctx.GuardrailMode == "reduced" {
		riskPct = riskPct.Mul(m.cfg.ReducedRiskFactor)
	}

	return Decision{Allowed: true, AdjustedRiskPercent: riskPct}
}

// riskPercentFor resolves the per-symbol risk% override, falling back
// to the strategy default, per spec.md §4.6's override precedence.
func (m *Manager) riskPercentFor(symbol string) decimal.Decimal {
	if pct, ok := m.cfg.SymbolRiskPercent[symbol]; ok {
		return pct
	}
	return m.cfg.DefaultRiskPercent
}

// IsSpreadAcceptable compares spread against the symbol's configured
// maximum. Per spec.md §4.6, this check is skipped (always true) when
// the Execution Filter's own spread gate is active, since the filter
// owns spread checking at that point; this method exists for callers
// that run without the Execution Filter, or that want a pre-filter
// early-out before spending a full pipeline evaluation.
func (m *Manager) IsSpreadAcceptable(symbol string, spreadPips decimal.Decimal, filterOwnsSpread bool) bool {
	if filterOwnsSpread {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	max, ok := m.cfg.SymbolMaxSpreadPips[symbol]
	if !ok {
		return true
	}
	return spreadPips.LessThanOrEqual(max)
}

// PositionSize implements spec.md §4.6's positionSize(ctx, slPips, price):
// lot size = equity * riskPct / (slPips * pipValue(symbol, price)),
// rounded down to the broker's lot step.
func (m *Manager) PositionSize(ctx RequestContext, stopLossPips decimal.Decimal, price decimal.Decimal) (decimal.Decimal, error) {
	if stopLossPips.IsZero() || stopLossPips.IsNegative() {
		return decimal.Zero, fmt.Errorf("stop loss distance must be positive, got %s pips", stopLossPips.String())
	}

	decision := m.CanTakeNewTrade(ctx)
	riskPct := decision.AdjustedRiskPercent
	if !decision.Allowed {
		riskPct = m.riskPercentFor(ctx.Symbol)
	}

	m.mu.RLock()
	spec, _ := m.pips.Get(ctx.Symbol)
	m.mu.RUnlock()

	riskAmount := ctx.AccountEquity.Mul(riskPct).Div(decimal.NewFromInt(100))
	denom := stopLossPips.Mul(spec.PipValuePerLot)
	if denom.IsZero() {
		return decimal.Zero, fmt.Errorf("zero pip value denominator for symbol %s", ctx.Symbol)
	}

	lots := riskAmount.Div(denom)
	lots = m.roundToLotStep(lots)
	if lots.LessThan(m.cfg.MinLotSize) {
		return decimal.Zero, fmt.Errorf("computed lot size %s below broker minimum %s", lots.String(), m.cfg.MinLotSize.String())
	}
	return lots, nil
}

func (m *Manager) roundToLotStep(lots decimal.Decimal) decimal.Decimal {
	step := m.cfg.LotStep
	if step.IsZero() {
		return lots
	}
	steps := lots.Div(step).Floor()
	return steps.Mul(step)
}
