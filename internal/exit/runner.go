package exit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/indicators"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/pipvalue"
	"github.com/ictrader/engine/internal/telemetry"
	"github.com/ictrader/engine/pkg/mathutil"
)

// atrPeriod matches the Signal Generator's displacement ATR period
// (spec.md §4.4), reused here so the trail's volatility reading is
// computed the same way the entry's was.
const atrPeriod = 14

// bbPeriod/bbWindow size the Bollinger Band history volatilityMultiplier
// reads: bbPeriod is the band's own SMA period, bbWindow is how many band
// widths are averaged to judge whether the current band is wide relative
// to its recent range.
const bbPeriod = 20
const bbWindow = 10

// volatilityMultiplierFloor/Ceiling bound the volatilityMultiplier so a
// single spike or a quiet patch can't blow the trail out to an absurd
// distance or collapse it to nothing.
var volatilityMultiplierFloor = decimal.NewFromFloat(0.5)
var volatilityMultiplierCeiling = decimal.NewFromInt(3)

// Runner drives every registered Plan's Evaluate call on its own
// ticker and applies the resulting Actions against the broker bridge,
// per spec.md §4.10 ("per-position plan evaluated on its own ticker").
// Grounded on the same ticker-driven-evaluation shape as
// internal/orchestrator.Orchestrator.Run, scoped here to exit
// management instead of entries.
type Runner struct {
	engine     *Engine
	broker     broker.Broker
	candles    *market.Store
	pips       *pipvalue.Table
	killSwitch *killswitch.Switch
	log        *logger.Logger
	interval   time.Duration
	now        func() time.Time
}

// NewRunner creates a Runner. interval <= 0 falls back to 5s.
func NewRunner(engine *Engine, br broker.Broker, candles *market.Store, pips *pipvalue.Table, ks *killswitch.Switch, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		engine: engine, broker: br, candles: candles, pips: pips, killSwitch: ks,
		log: logger.Component("exit-runner"), interval: interval, now: time.Now,
	}
}

// Run drives the tick loop until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	for _, plan := range r.engine.Plans() {
		r.evaluatePlan(ctx, plan)
	}
}

func (r *Runner) evaluatePlan(ctx context.Context, plan Plan) {
	latest, ok := r.candles.Latest(plan.Symbol)
	if !ok {
		return
	}

	spec, _ := r.pips.Get(plan.Symbol)
	symbolArmed, _ := r.killSwitch.IsArmed(killswitch.ScopeSymbol, plan.Symbol)
	globalArmed, _ := r.killSwitch.IsArmed(killswitch.ScopeGlobal, "")

	in := EvalInput{
		Now:                  r.now(),
		CurrentPrice:         latest.Close,
		ATR:                  r.atr(plan.Symbol),
		PipSize:              spec.PipSize,
		VolatilityMultiplier: r.volatilityMultiplier(plan.Symbol),
		KillSwitchArmed:      symbolArmed || globalArmed,
	}

	actions := r.engine.Evaluate(plan.Ticket, in)
	for _, action := range actions {
		r.apply(ctx, plan.Symbol, action)
	}
}

// atr computes the M1 ATR over the last atrPeriod+1 candles, returning
// zero when there isn't enough history yet (fixed_pips trailing still
// works without it; atr/volatility_adaptive trailing simply won't
// advance until candles accumulate).
func (r *Runner) atr(symbol string) decimal.Decimal {
	candles := r.candles.LastN(symbol, atrPeriod+1)
	if len(candles) < atrPeriod+1 {
		return decimal.Zero
	}
	highs := make([]decimal.Decimal, len(candles))
	lows := make([]decimal.Decimal, len(candles))
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	series := indicators.ATR(highs, lows, closes, atrPeriod)
	if len(series) == 0 {
		return decimal.Zero
	}
	return series[len(series)-1]
}

// volatilityMultiplier reads the current Bollinger Band width against its
// own recent average: a band wider than its recent norm means realized
// volatility has expanded, and the volatility_adaptive trail (TrailMode in
// types.go) should widen with it rather than hold the same distance as a
// plain ATR trail. Falls back to 1 (neutral) until there's enough history.
func (r *Runner) volatilityMultiplier(symbol string) decimal.Decimal {
	candles := r.candles.LastN(symbol, bbPeriod+bbWindow)
	if len(candles) < bbPeriod+bbWindow {
		return decimal.NewFromInt(1)
	}
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	upper, _, lower := indicators.BollingerBands(closes, bbPeriod, 2.0)
	if len(upper) < bbWindow {
		return decimal.NewFromInt(1)
	}

	widths := make([]decimal.Decimal, len(upper))
	for i := range upper {
		widths[i] = upper[i].Sub(lower[i])
	}

	current := widths[len(widths)-1]
	avg := decimal.Zero
	window := widths[len(widths)-bbWindow:]
	for _, w := range window {
		avg = avg.Add(w)
	}
	avg = avg.Div(decimal.NewFromInt(int64(len(window))))
	if avg.IsZero() {
		return decimal.NewFromInt(1)
	}

	mult := current.Div(avg)
	return mathutil.ClampDecimal(mult, volatilityMultiplierFloor, volatilityMultiplierCeiling)
}

func (r *Runner) apply(ctx context.Context, symbol string, action Action) {
	telemetry.RecordExit(symbol, action.Reason)

	switch action.Kind {
	case ActionModifyStop:
		if _, err := r.broker.ModifyTrade(ctx, action.Ticket, action.NewStopLoss, decimal.Zero); err != nil {
			r.log.WithError(err).Warn("modify stop failed", "ticket", action.Ticket, "symbol", symbol)
		}
	case ActionPartialClose:
		// The broker bridge contract (spec.md §6) exposes only a full
		// CloseTrade, no partial-volume close; a partial here is logged
		// and metered so an operator can close the remainder manually
		// until the bridge grows a partial-close endpoint.
		r.log.Info("partial close signaled, bridge has no partial-close endpoint",
			"ticket", action.Ticket, "symbol", symbol, "percent", action.ClosePercent.String())
	case ActionClose:
		if _, err := r.broker.CloseTrade(ctx, action.Ticket); err != nil {
			r.log.WithError(err).Warn("close trade failed", "ticket", action.Ticket, "symbol", symbol)
		}
	}
}
