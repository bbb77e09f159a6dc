// Package orchestrator drives the tick loop from spec.md §4.13: at each
// configured interval, for every configured symbol, it runs the News
// Guardrail check, the Signal Generator, the Execution Filter, the Kill
// Switch, the Risk Service, position sizing and broker submission, in
// that order, logging a Decision Log Row for every outcome and
// registering an Exit Plan on success.
//
// Grounded on the teacher's internal/order.Manager.Start/monitor
// background-goroutine-with-done-channel idiom, generalized from one
// ticker driving order/position refresh to one ticker driving the full
// gate cascade for every tracked symbol in turn; each symbol's cycle recovers
// from panics and logs errors rather than ever halting the loop
// (spec.md §4.13 "an error in one symbol cycle is caught and must not
// halt the loop").
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/config"
	"github.com/ictrader/engine/internal/decisionlog"
	"github.com/ictrader/engine/internal/exit"
	"github.com/ictrader/engine/internal/exposure"
	"github.com/ictrader/engine/internal/filter"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/lossstreak"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/newsguard"
	"github.com/ictrader/engine/internal/orderflow"
	"github.com/ictrader/engine/internal/pipvalue"
	"github.com/ictrader/engine/internal/risk"
	"github.com/ictrader/engine/internal/smc"
	"github.com/ictrader/engine/internal/telemetry"
)

// SignalGenerator is the subset of smc.Generator the orchestrator needs,
// so tests can substitute a fake.
type SignalGenerator interface {
	Evaluate(symbol string, currentPrice decimal.Decimal) (*smc.RawSignal, string)
}

// PriceSource supplies the current price and spread used to evaluate a
// symbol's cycle; satisfied by internal/feed.Poller's LastTick in
// production.
type PriceSource interface {
	LastTick(symbol string) (market.Tick, bool)
}

// Deps bundles every collaborator one tick-loop cycle touches. All
// fields are required except where noted.
type Deps struct {
	Broker          broker.Broker
	Prices          PriceSource
	Signals         SignalGenerator
	Filter          *filter.Filter
	Risk            *risk.Manager
	Exposure        *exposure.Tracker
	KillSwitch      *killswitch.Switch
	Exit            *exit.Engine
	NewsGuard       *newsguard.Client
	LossStreak      *lossstreak.Tracker
	OrderFlow       *orderflow.Snapshotter // optional; nil disables the order-flow gate inputs
	Decisions       decisionlog.Store
	Config          *config.AppConfig
	Pips            *pipvalue.Table
	AccountEquityFn func() decimal.Decimal // returns current account equity for risk sizing
	Now             func() time.Time       // overridable for tests; defaults to time.Now
}

type strategyDay struct {
	date        string
	tradesTaken int
	realizedPnL decimal.Decimal
	lastTradeAt map[string]time.Time // keyed by symbol, for the cooldown gate
}

// Orchestrator runs the tick loop described in spec.md §4.13.
type Orchestrator struct {
	deps Deps
	log  *logger.Logger

	mu   sync.Mutex
	days map[string]*strategyDay // keyed by strategy
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps: deps,
		log:  logger.Component("orchestrator"),
		days: make(map[string]*strategyDay),
	}
}

// Run drives the tick loop on its own ticker until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := time.Duration(o.deps.Config.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick runs one cycle for every configured symbol, isolating panics and
// errors per symbol.
func (o *Orchestrator) tick(ctx context.Context) {
	for _, symbol := range o.deps.Config.Symbols {
		o.evaluateSymbolSafely(ctx, symbol)
	}
}

func (o *Orchestrator) evaluateSymbolSafely(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic evaluating symbol cycle", "symbol", symbol, "panic", fmt.Sprint(r))
			telemetry.RecordCallbackPanic()
		}
	}()
	o.evaluateSymbol(ctx, symbol)
}

func (o *Orchestrator) evaluateSymbol(ctx context.Context, symbol string) {
	now := o.deps.Now()
	strategy := o.deps.Config.StrategyFor(symbol)
	day := o.rolloverIfNeeded(strategy, now)

	row := decisionlog.NewRow(now)
	row.Symbol = symbol
	row.Strategy = strategy
	guardrailMode := "normal"

	skip := func(reason string, reasons []string) {
		row.FilterDecision = decisionlog.DecisionSkip
		row.FilterReasons = reasons
		o.persist(ctx, row)
		telemetry.RecordSignalRejected(symbol, reason)
		o.log.Info("tick skip", "symbol", symbol, "strategy", strategy, "reason", reason)
	}

	// 2. News Guardrail.
	if o.deps.NewsGuard != nil {
		result, err := o.deps.NewsGuard.CanTradeNow(ctx, strategy)
		if err != nil {
			telemetry.RecordNewsGuardBlock(symbol)
			row.GuardrailMode = "blocked"
			row.GuardrailReason = "news guardrail unreachable: " + err.Error()
			skip(row.GuardrailReason, []string{row.GuardrailReason})
			return
		}
		guardrailMode = result.Mode()
		row.GuardrailMode = guardrailMode
		if !result.CanTrade {
			row.GuardrailReason = "inside news avoid window"
			telemetry.RecordNewsGuardBlock(symbol)
			skip(row.GuardrailReason, []string{row.GuardrailReason})
			return
		}
	}
	row.GuardrailMode = guardrailMode

	tick, ok := o.tickFor(symbol)
	if !ok {
		row.SignalReason = "no price tick available"
		skip(row.SignalReason, []string{row.SignalReason})
		return
	}

	// 3. Signal Generator.
	raw, reason := o.deps.Signals.Evaluate(symbol, tick.Mid)
	if raw == nil {
		row.SignalReason = reason
		skip(reason, []string{reason})
		return
	}
	telemetry.RecordSignalGenerated(symbol, string(raw.Signal.Direction))

	// 4. Execution Filter.
	filterCtx := o.buildFilterContext(symbol, tick, now, day, raw.Signal.Direction, guardrailMode)
	decision := o.deps.Filter.Evaluate(*raw, filterCtx)
	row.FilterReasons = decision.Reasons
	telemetry.RecordFilterDecision(symbol, string(decision.Action))
	for _, reason := range decision.Reasons {
		telemetry.RecordFilterSkipReason(symbol, reason)
	}
	if decision.Action == filter.Skip {
		row.FilterDecision = decisionlog.DecisionSkip
		o.persist(ctx, row)
		o.log.Info("tick skip", "symbol", symbol, "strategy", strategy, "reasons", decision.Reasons)
		return
	}

	// 5. Kill Switch.
	if armed, reasons := o.deps.KillSwitch.IsArmed(killswitch.ScopeSymbol, symbol); armed {
		row.KillSwitchActive = true
		row.KillSwitchReasons = reasons
		skip("kill switch armed for symbol", reasons)
		return
	}
	if armed, reasons := o.deps.KillSwitch.IsArmed(killswitch.ScopeStrategy, strategy); armed {
		row.KillSwitchActive = true
		row.KillSwitchReasons = reasons
		skip("kill switch armed for strategy", reasons)
		return
	}
	if armed, reasons := o.deps.KillSwitch.IsArmed(killswitch.ScopeGlobal, ""); armed {
		row.KillSwitchActive = true
		row.KillSwitchReasons = reasons
		skip("kill switch armed globally", reasons)
		return
	}

	// 6. Risk Service.
	riskCtx := risk.RequestContext{
		Strategy:                   strategy,
		Symbol:                     symbol,
		GuardrailMode:              filterCtx.GuardrailMode,
		TodayRealizedPnL:           day.realizedPnL,
		AccountEquity:              o.accountEquity(),
		TradesTakenTodayByStrategy: day.tradesTaken,
	}
	riskDecision := o.deps.Risk.CanTakeNewTrade(riskCtx)
	if !riskDecision.Allowed {
		row.RiskReason = riskDecision.Reason
		telemetry.RecordRiskRejection(symbol, riskDecision.Reason)
		skip(riskDecision.Reason, []string{riskDecision.Reason})
		return
	}

	// 7. Position size.
	stopLossPips := o.deps.Pips.PipsBetween(symbol, raw.Signal.Entry, raw.Signal.StopLoss).Abs()
	volume, err := o.deps.Risk.PositionSize(riskCtx, stopLossPips, raw.Signal.Entry)
	if err != nil || volume.LessThanOrEqual(decimal.Zero) {
		reason := "non-positive position size"
		if err != nil {
			reason = err.Error()
		}
		row.RiskReason = reason
		skip(reason, []string{reason})
		return
	}

	// 8. Submit to the broker.
	req := broker.OpenTradeRequest{
		Symbol:     symbol,
		Direction:  toBrokerDirection(raw.Signal.Direction),
		OrderKind:  raw.Signal.OrderKind,
		Volume:     volume,
		EntryPrice: raw.Signal.Entry,
		StopLoss:   raw.Signal.StopLoss,
		TakeProfit: raw.Signal.TakeProfit,
		Comment:    raw.Signal.Reason,
	}
	row.TradeRequest = &decisionlog.TradeRequest{
		Symbol: symbol, Direction: req.Direction, Volume: volume,
		EntryPrice: raw.Signal.Entry, StopLoss: raw.Signal.StopLoss, TakeProfit: raw.Signal.TakeProfit,
	}

	result, err := o.deps.Broker.OpenTrade(ctx, req)
	if err != nil {
		telemetry.RecordBrokerAPIError("open_trade")
		row.ExecutionResult = &decisionlog.ExecutionResult{Success: false, Error: err.Error()}
		row.FilterDecision = decisionlog.DecisionSkip
		o.persist(ctx, row)
		o.log.WithError(err).Warn("broker open trade failed", "symbol", symbol)
		return
	}
	row.ExecutionResult = &decisionlog.ExecutionResult{Success: result.Success, Ticket: result.Ticket, Error: result.Error}

	if !result.Success {
		row.FilterDecision = decisionlog.DecisionSkip
		o.persist(ctx, row)
		o.log.Warn("broker rejected trade", "symbol", symbol, "error", result.Error)
		return
	}

	// 9. Success: register the exit plan, advance daily counters, log.
	row.FilterDecision = decisionlog.DecisionTrade
	ec := o.deps.Config.Exit
	o.deps.Exit.Register(exit.Plan{
		Ticket: result.Ticket, Symbol: symbol, Direction: req.Direction,
		Volume: volume, EntryPrice: raw.Signal.Entry, StopLossInitial: raw.Signal.StopLoss,
		TP1:                 raw.Signal.TakeProfit,
		BreakEvenTriggerR:   ec.BreakEvenTriggerRMultiple,
		PartialClosePercent: ec.PartialClosePercent,
		TrailMode:           exit.TrailMode(ec.TrailMode),
		TrailValue:          ec.TrailValue,
		TimeLimit:           time.Duration(ec.MaxHoldHours) * time.Hour,
		MinDwellBeforeCommissionExit: time.Duration(ec.MinDwellMinutesBeforeCommissionExit) * time.Minute,
		OpenedAt:            now,
	})
	telemetry.RecordTradeOpened(symbol, string(req.Direction))

	o.mu.Lock()
	day.tradesTaken++
	day.lastTradeAt[symbol] = now
	o.mu.Unlock()

	o.persist(ctx, row)
	o.log.Info("trade opened", "symbol", symbol, "strategy", strategy, "ticket", result.Ticket)
}

func (o *Orchestrator) buildFilterContext(symbol string, tick market.Tick, now time.Time, day *strategyDay, direction smc.Direction, guardrailMode string) filter.Context {
	spec, _ := o.deps.Pips.Get(symbol)
	ctx := filter.Context{
		GuardrailMode:                    guardrailMode,
		Now:                              now,
		CurrentPrice:                     tick.Mid,
		SpreadPips:                       tick.SpreadPips(spec.PipSize),
		TodayTradeCountForSymbolStrategy: day.tradesTaken,
		LossStreakPauseActive:           o.deps.LossStreak != nil && o.deps.LossStreak.IsPaused(symbol, now),
	}

	o.mu.Lock()
	if at, ok := day.lastTradeAt[symbol]; ok {
		ctx.LastTradeAtForSymbolStrategy = at
		ctx.HasLastTrade = true
	}
	o.mu.Unlock()

	if snap := o.deps.Exposure.Current(); snap != nil {
		ctx.GlobalConcurrentTrades = snap.Global.TotalCount
		ctx.GlobalDailyEstimatedRisk = snap.Global.EstimatedRisk
		if bySymbol, ok := snap.BySymbol[symbol]; ok {
			ctx.OpenTradesForSymbol = bySymbol.TotalCount
			ctx.SymbolDailyEstimatedRisk = bySymbol.EstimatedRisk
		}
	} else {
		ctx.ExposureSnapshotErr = fmt.Errorf("no exposure snapshot yet")
	}

	if o.deps.OrderFlow != nil {
		if of, ok := o.deps.OrderFlow.Get(symbol); ok {
			bullish := direction == smc.Bullish
			ctx.OrderFlowAvailable = true
			ctx.OrderFlowFresh = now.Sub(of.LastUpdated) < 30*time.Second
			ctx.OrderFlow15sDelta = of.Delta15s
			ctx.OrderFlowReversalExhaustion = (bullish && of.DeltaMomentum.IsNegative()) || (!bullish && of.DeltaMomentum.IsPositive())
			ctx.OrderFlowLargeOpposingOrderCount = of.LargeOrderCount
			ctx.OrderFlowAbsorptionOpposite = (bullish && of.AbsorptionSell) || (!bullish && of.AbsorptionBuy)
			ctx.OrderFlowVWAP = of.VWAP
			ctx.OrderFlowMACDHistogram = of.MACDHistogram
		}
	}

	return ctx
}

func (o *Orchestrator) tickFor(symbol string) (market.Tick, bool) {
	if o.deps.Prices == nil {
		return market.Tick{}, false
	}
	return o.deps.Prices.LastTick(symbol)
}

func (o *Orchestrator) accountEquity() decimal.Decimal {
	if o.deps.AccountEquityFn == nil {
		return decimal.Zero
	}
	return o.deps.AccountEquityFn()
}

func (o *Orchestrator) rolloverIfNeeded(strategy string, now time.Time) *strategyDay {
	today := now.Format("2006-01-02")

	o.mu.Lock()
	defer o.mu.Unlock()

	day, ok := o.days[strategy]
	if !ok || day.date != today {
		day = &strategyDay{date: today, lastTradeAt: make(map[string]time.Time)}
		o.days[strategy] = day
	}
	return day
}

// OnTradeClosed is the hook the order-event ingestion path should wire
// into the events bus's TradeClosed subscription, so today's realized
// PnL used by the Risk Service stays current.
func (o *Orchestrator) OnTradeClosed(strategy string, profit decimal.Decimal, at time.Time) {
	day := o.rolloverIfNeeded(strategy, at)
	o.mu.Lock()
	day.realizedPnL = day.realizedPnL.Add(profit)
	o.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context, row decisionlog.Row) {
	if o.deps.Decisions == nil {
		return
	}
	if err := o.deps.Decisions.Save(ctx, row); err != nil {
		o.log.WithError(err).Warn("decision log save failed", "symbol", row.Symbol)
	}
}

func toBrokerDirection(d smc.Direction) broker.Direction {
	if d == smc.Bearish {
		return broker.DirectionSell
	}
	return broker.DirectionBuy
}
