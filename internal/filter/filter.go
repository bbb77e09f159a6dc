// Package filter implements the Execution Filter: an ordered pipeline of
// gates that evaluates a RawSignal and either confirms it for TRADE or
// accumulates every failing reason into a SKIP decision (spec.md §4.5).
//
// Grounded on the Gate/SignalFilter interface idiom in
// other_examples/f36c5801_nofendian17-stockbit-haka-haki__app-signal_filter.go.go
// (an ordered []SignalFilter pipeline evaluated by a service), generalized
// from short-circuit-on-first-failure (that example returns on the first
// false) to accumulate-all-reasons, since spec.md §4.5/§8 requires a
// SKIP's reason list to be complete, not just the first blocking gate.
package filter

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/smc"
)

// Action is the filter's final verdict.
type Action string

const (
	Trade Action = "TRADE"
	Skip  Action = "SKIP"
)

// Context carries everything a gate needs to evaluate one RawSignal,
// per spec.md §4.5's enumerated context fields.
type Context struct {
	GuardrailMode                    string
	SpreadPips                       decimal.Decimal
	Now                               time.Time
	OpenTradesForSymbol               int
	OpenTradesForSymbolDirection      map[smc.Direction]int
	TodayTradeCountForSymbolStrategy  int
	LastTradeAtForSymbolStrategy      time.Time
	HasLastTrade                     bool
	CurrentPrice                      decimal.Decimal
	DailyHigh                         decimal.Decimal
	DailyLow                          decimal.Decimal
	HasDailyExtremes                  bool
	ExposureSnapshotErr               error
	GlobalConcurrentTrades            int
	GlobalDailyEstimatedRisk          decimal.Decimal
	SymbolDailyEstimatedRisk          decimal.Decimal
	LossStreakPauseActive             bool
	OrderFlowAvailable                bool
	OrderFlowFresh                    bool
	OrderFlow15sDelta                 decimal.Decimal
	OrderFlowReversalExhaustion       bool
	OrderFlowLargeOpposingOrderCount  int
	OrderFlowAbsorptionOpposite       bool
	OrderFlowVWAP                     decimal.Decimal
	OrderFlowMACDHistogram            decimal.Decimal
}

// SymbolRules is the per-symbol configuration the filter gates against,
// per spec.md §6's per-symbol execution-filter rule set.
type SymbolRules struct {
	Enabled                           bool
	AllowedDirections                 []smc.Direction
	BlockedGuardrailModes             []string
	SessionWindows                    []SessionWindow
	RequireHTFAlignment               bool
	AllowedHTFTrends                  []smc.Direction
	RequireBOS                        bool
	RequireLiquiditySweep             bool
	RequireDisplacement               bool
	RequirePremiumDiscount            bool
	RequireFVG                        bool
	RequireVolumeImbalanceAlignment   bool
	VolumeImbalanceHardRule           bool // false = soft, log only
	MinConfluenceScore                *int // nil-coalescing: distinguishes "unset" from explicit 0
	DisplacementMinATRMultiplier      decimal.Decimal
	MaxSpreadPips                     decimal.Decimal
	MaxTradesPerDay                   int
	MinMinutesBetweenTrades           int
	MaxConcurrentTradesPerSymbol      int
	MaxConcurrentTradesPerDirection   int
	MaxDailyRiskPerSymbol             decimal.Decimal
	MinDistanceFromDailyExtremePips   decimal.Decimal
}

// SessionWindow is an allowed trading-hour window in engine-local time.
type SessionWindow struct {
	StartHour, EndHour int // [start, end)
}

// Contains reports whether hour (0-23, engine timezone) falls inside the
// window.
func (w SessionWindow) Contains(hour int) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

// GlobalRules bounds exposure across all symbols, per spec.md §6.
type GlobalRules struct {
	MaxConcurrentTradesGlobal int
	MaxDailyRiskGlobal        decimal.Decimal
}

// Decision is the filter's output, per spec.md §3's Execution Decision.
type Decision struct {
	Action           Action
	Reasons          []string
	NormalizedSignal smc.TradeSignal
}

// RuleProvider resolves a symbol's rules; a missing entry is a
// configuration error, not a panic or an implicit allow.
type RuleProvider interface {
	Rules(symbol string) (SymbolRules, bool)
}

// Filter runs the ordered gate pipeline over a RawSignal.
type Filter struct {
	rules  RuleProvider
	global GlobalRules
}

// NewFilter creates a Filter.
func NewFilter(rules RuleProvider, global GlobalRules) *Filter {
	return &Filter{rules: rules, global: global}
}

// Evaluate runs every gate in the documented order (spec.md §4.5),
// accumulating reasons rather than stopping at the first failure, so a
// SKIP decision's Reasons is always the complete list.
func (f *Filter) Evaluate(raw smc.RawSignal, ctx Context) Decision {
	reasons := make([]string, 0)

	rules, ok := f.rules.Rules(raw.Signal.Symbol)
	if !ok {
		return Decision{Action: Skip, Reasons: []string{"no execution rules configured"}, NormalizedSignal: raw.Signal}
	}

	for _, gate := range gates {
		if reason, failed := gate(raw, ctx, rules, f.global); failed {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) > 0 {
		return Decision{Action: Skip, Reasons: reasons, NormalizedSignal: raw.Signal}
	}
	return Decision{Action: Trade, Reasons: nil, NormalizedSignal: raw.Signal}
}
