package filter

import (
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/smc"
)

// gate is one evaluation step: returns (reason, true) on failure, or
// ("", false) when it passes. A failed gate still lets every later gate
// run, per spec.md §5's "cheap later gates" ordering guarantee.
type gate func(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool)

// gates runs in this exact order, matching spec.md §4.5's numbered list.
var gates = []gate{
	gateSymbolEnabledAndDirection,
	gateGuardrailMode,
	gateSession,
	gateHTFAlignment,
	gateStructure,
	gateLiquiditySweep,
	gateDisplacement,
	gatePremiumDiscount,
	gateVolumeImbalance,
	gateFVG,
	gateVolumeImbalanceHard,
	gateConfluenceScore,
	gateSMTDivergence,
	gateSpread,
	gateTradeCountCap,
	gateCooldown,
	gateLossStreak,
	gateExposure,
	gateDailyExtremeDistance,
	gateOrderFlow,
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// 1. Symbol rules configured and enabled; direction allowed.
func gateSymbolEnabledAndDirection(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !rules.Enabled {
		return "symbol disabled", true
	}
	if len(rules.AllowedDirections) > 0 && !contains(rules.AllowedDirections, raw.Signal.Direction) {
		return "direction not allowed for symbol", true
	}
	return "", false
}

// 2. Guardrail mode not in the symbol's block list.
func gateGuardrailMode(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if contains(rules.BlockedGuardrailModes, ctx.GuardrailMode) {
		return "guardrail mode blocked for symbol", true
	}
	return "", false
}

// 3. Current time inside at least one configured session window.
func gateSession(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if raw.Signal.Meta.Session == "valid" {
		return "", false
	}
	if len(rules.SessionWindows) == 0 {
		return "", false
	}
	hour := ctx.Now.Hour()
	for _, w := range rules.SessionWindows {
		if w.Contains(hour) {
			return "", false
		}
	}
	return "outside configured session window", true
}

// 4. HTF alignment: htfTrend in allowed set and agrees with direction.
func gateHTFAlignment(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !rules.RequireHTFAlignment {
		return "", false
	}
	trend := raw.TimeframeContext.HTFTrend
	if len(rules.AllowedHTFTrends) > 0 && !contains(rules.AllowedHTFTrends, trend) {
		return "htf trend not in allowed set", true
	}
	if trend != raw.Signal.Direction {
		return "htf trend disagrees with signal direction", true
	}
	return "", false
}

// 5. Structural: BOS direction (fallback CHoCH) equals signal direction.
func gateStructure(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !rules.RequireBOS {
		return "", false
	}
	structure := raw.Signal.Meta.Structure
	if structure != smc.BOS && structure != smc.CHoCH {
		return "no qualifying bos/choch", true
	}
	if raw.Signal.Meta.StructureDirection != raw.Signal.Direction {
		return "structure direction disagrees with signal", true
	}
	return "", false
}

// 6. Liquidity sweep required.
func gateLiquiditySweep(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.RequireLiquiditySweep && !raw.Signal.Meta.LiquiditySwept {
		return "liquidity sweep required but not present", true
	}
	return "", false
}

// 7. Displacement required.
func gateDisplacement(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.RequireDisplacement && !raw.Signal.Meta.DisplacementCandle {
		return "displacement candle required but not present", true
	}
	return "", false
}

// 8. Premium/discount: buy only in discount, sell only in premium.
func gatePremiumDiscount(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !rules.RequirePremiumDiscount {
		return "", false
	}
	pd := raw.Signal.Meta.PremiumDiscount
	if pd == "" {
		return "", false // metadata absent: gate does not apply
	}
	if raw.Signal.Direction == smc.Bullish && pd != smc.Discount {
		return "buy signal not in discount zone", true
	}
	if raw.Signal.Direction == smc.Bearish && pd != smc.Premium {
		return "sell signal not in premium zone", true
	}
	return "", false
}

// 9. LTF flow not counter to HTF: the most recent BOS on the live M15
// series (TimeframeContext.LastBOS, independent of the M15 zone the
// signal was built from) must not point against HTFTrend. Degrades to
// a pass when the latest M15 break isn't a BOS at all.
func gateVolumeImbalance(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if raw.TimeframeContext.LastBOS != "" && raw.TimeframeContext.LastBOS != raw.TimeframeContext.HTFTrend {
		return "ltf flow counter to htf bias", true
	}
	return "", false
}

// 10. FVG present (at least one timeframe) when required.
func gateFVG(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.RequireFVG && raw.Signal.Meta.FVG == nil {
		return "fair value gap required but not present", true
	}
	return "", false
}

// 11. Volume-imbalance alignment: hard (SKIP) when VolumeImbalanceHardRule
// is set; otherwise soft, logging the misalignment without a SKIP.
func gateVolumeImbalanceHard(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !rules.RequireVolumeImbalanceAlignment {
		return "", false
	}
	if raw.Signal.Meta.VolumeImbalanceAligned {
		return "", false
	}
	if !rules.VolumeImbalanceHardRule {
		// soft mode: log here, do not SKIP
		logger.Component("filter").Info("volume imbalance misaligned (soft rule)", "symbol", raw.Signal.Symbol)
		return "", false
	}
	return "volume imbalance misaligned", true
}

// 12. Confluence score >= per-symbol minimum, null-coalescing (0 is valid).
func gateConfluenceScore(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.MinConfluenceScore == nil {
		return "", false
	}
	if raw.Signal.Meta.ConfluenceScore < *rules.MinConfluenceScore {
		return "confluence score below symbol minimum", true
	}
	return "", false
}

// 13. SMT divergence, if present, must not contradict direction. No SMT
// field is modeled explicitly yet (cross-instrument correlation is out of
// this engine's single-symbol scope); absence never fails the gate.
func gateSMTDivergence(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	return "", false
}

// 14. Spread in pips <= per-symbol maximum.
func gateSpread(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.MaxSpreadPips.IsZero() {
		return "", false
	}
	if ctx.SpreadPips.GreaterThan(rules.MaxSpreadPips) {
		return "spread exceeds symbol maximum", true
	}
	return "", false
}

// 15. Trade-count cap per (symbol, strategy, day) not reached.
func gateTradeCountCap(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.MaxTradesPerDay > 0 && ctx.TodayTradeCountForSymbolStrategy >= rules.MaxTradesPerDay {
		return "daily trade count cap reached", true
	}
	return "", false
}

// 16. Cooldown: minutes since last trade >= configured minimum.
func gateCooldown(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if rules.MinMinutesBetweenTrades <= 0 || !ctx.HasLastTrade {
		return "", false
	}
	elapsed := ctx.Now.Sub(ctx.LastTradeAtForSymbolStrategy)
	if elapsed.Minutes() < float64(rules.MinMinutesBetweenTrades) {
		return "cooldown period not elapsed", true
	}
	return "", false
}

// 17. Loss-streak pause for the symbol not active.
func gateLossStreak(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if ctx.LossStreakPauseActive {
		return "loss streak pause active", true
	}
	return "", false
}

// 18. Exposure: per-symbol/global concurrent + daily risk caps.
func gateExposure(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if ctx.ExposureSnapshotErr != nil {
		return "exposure snapshot error", true
	}
	if rules.MaxConcurrentTradesPerSymbol > 0 && ctx.OpenTradesForSymbol >= rules.MaxConcurrentTradesPerSymbol {
		return "per-symbol concurrent trade cap reached", true
	}
	if rules.MaxConcurrentTradesPerDirection > 0 {
		if ctx.OpenTradesForSymbolDirection[raw.Signal.Direction] >= rules.MaxConcurrentTradesPerDirection {
			return "per-symbol per-direction trade cap reached", true
		}
	}
	if global.MaxConcurrentTradesGlobal > 0 && ctx.GlobalConcurrentTrades >= global.MaxConcurrentTradesGlobal {
		return "global concurrent trade cap reached", true
	}
	if rules.MaxDailyRiskPerSymbol.IsPositive() && ctx.SymbolDailyEstimatedRisk.GreaterThanOrEqual(rules.MaxDailyRiskPerSymbol) {
		return "per-symbol daily risk cap reached", true
	}
	if global.MaxDailyRiskGlobal.IsPositive() && ctx.GlobalDailyEstimatedRisk.GreaterThanOrEqual(global.MaxDailyRiskGlobal) {
		return "global daily risk cap reached", true
	}
	return "", false
}

// 19. Distance from daily high/low >= minimum, when available.
func gateDailyExtremeDistance(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !ctx.HasDailyExtremes || rules.MinDistanceFromDailyExtremePips.IsZero() {
		return "", false
	}
	entry := raw.Signal.Entry
	distHigh := ctx.DailyHigh.Sub(entry).Abs()
	distLow := entry.Sub(ctx.DailyLow).Abs()
	closest := distHigh
	if distLow.LessThan(closest) {
		closest = distLow
	}
	if closest.LessThan(rules.MinDistanceFromDailyExtremePips) {
		return "too close to daily extreme", true
	}
	return "", false
}

// 20. Order-flow: 15s delta, reversal-exhaustion, opposing-order count,
// absorption, VWAP position and MACD histogram momentum. Degrades
// gracefully: an unavailable/stale snapshot skips this gate entirely
// rather than blocking the trade, and a zero VWAP/MACD reading (not
// enough history yet) can't oppose either direction by construction.
func gateOrderFlow(raw smc.RawSignal, ctx Context, rules SymbolRules, global GlobalRules) (string, bool) {
	if !ctx.OrderFlowAvailable || !ctx.OrderFlowFresh {
		return "", false
	}

	dirSign := 1
	if raw.Signal.Direction == smc.Bearish {
		dirSign = -1
	}

	if dirSign > 0 && ctx.OrderFlow15sDelta.IsNegative() {
		return "15s order-flow delta opposes direction", true
	}
	if dirSign < 0 && ctx.OrderFlow15sDelta.IsPositive() {
		return "15s order-flow delta opposes direction", true
	}
	if ctx.OrderFlowReversalExhaustion {
		return "reversal exhaustion detected", true
	}
	if ctx.OrderFlowLargeOpposingOrderCount >= 3 {
		return "three or more large opposing orders", true
	}
	if ctx.OrderFlowAbsorptionOpposite {
		return "absorption detected on opposite side", true
	}
	if ctx.OrderFlowVWAP.IsPositive() {
		if dirSign > 0 && raw.Signal.Entry.LessThan(ctx.OrderFlowVWAP) {
			return "entry below vwap opposes long direction", true
		}
		if dirSign < 0 && raw.Signal.Entry.GreaterThan(ctx.OrderFlowVWAP) {
			return "entry above vwap opposes short direction", true
		}
	}
	if dirSign > 0 && ctx.OrderFlowMACDHistogram.IsNegative() {
		return "macd histogram opposes long direction", true
	}
	if dirSign < 0 && ctx.OrderFlowMACDHistogram.IsPositive() {
		return "macd histogram opposes short direction", true
	}
	return "", false
}
