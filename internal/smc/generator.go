package smc

import (
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/indicators"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/pipvalue"
)

// confluenceRSIPeriod/confluenceStochasticPeriod size the momentum
// readings confluenceScore takes on the M1 refinement series; both
// fit inside the DisplacementATRPeriod+2 minimum history Evaluate
// already requires before scoring a setup.
const confluenceRSIPeriod = 14
const confluenceStochasticPeriod = 14

// Config controls per-symbol generator thresholds, mirroring spec.md
// §6's smcTimeframes/smcRiskReward configuration keys.
type Config struct {
	HTFTimeframe              market.Timeframe
	LTFTimeframe              market.Timeframe // M15 setup timeframe
	RefinementTimeframe       market.Timeframe // M1 refinement timeframe
	DisplacementATRPeriod     int
	DisplacementATRMultiplier decimal.Decimal // k in spec.md §4.4 step 2
	ZoneBufferPips            decimal.Decimal // buffer for "inside or near" zone checks
	StopBufferPips            decimal.Decimal // SL buffer beyond the M1 OB
	RiskReward                decimal.Decimal // R multiple for TP, default 3
}

// DefaultConfig matches spec.md §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		HTFTimeframe:              market.H4,
		LTFTimeframe:              market.M15,
		RefinementTimeframe:       market.M1,
		DisplacementATRPeriod:     14,
		DisplacementATRMultiplier: DefaultDisplacementATRMultiplier,
		ZoneBufferPips:            decimal.NewFromInt(2),
		StopBufferPips:            decimal.NewFromInt(3),
		RiskReward:                decimal.NewFromInt(3),
	}
}

// Generator evaluates a symbol across H4/M15/M1 and emits a RawSignal or
// a rejection reason, per spec.md §4.4.
type Generator struct {
	cfg   Config
	store *market.Store
	pips  *pipvalue.Table
	log   *logger.Logger
}

// NewGenerator creates a Generator reading candles from store.
func NewGenerator(cfg Config, store *market.Store, pips *pipvalue.Table) *Generator {
	return &Generator{cfg: cfg, store: store, pips: pips, log: logger.Component("smc")}
}

// Evaluate runs the full HTF bias -> M15 setup -> M1 refinement pipeline
// for symbol at currentPrice. Returns (signal, "") on success, or
// (nil, reason) when no setup qualifies.
func (g *Generator) Evaluate(symbol string, currentPrice decimal.Decimal) (*RawSignal, string) {
	h4 := g.store.Aggregate(symbol, g.cfg.HTFTimeframe)
	bias := HTFBias(h4)
	if bias == Sideways {
		return nil, "no directional bias"
	}

	m15 := g.store.Aggregate(symbol, g.cfg.LTFTimeframe)
	zone, dispIdx, ok := g.findSetupZone(m15, bias)
	if !ok {
		return nil, "no qualifying m15 setup zone"
	}
	g.log.Debug("m15 setup zone found", "symbol", symbol, "displacement_index", dispIdx)

	m1 := g.store.LastN(symbol, 200)
	if len(m1) < g.cfg.DisplacementATRPeriod+2 {
		return nil, "insufficient m1 history"
	}

	buffer := g.pips.PipsToPrice(symbol, g.cfg.ZoneBufferPips)
	if !zone.Contains(currentPrice, buffer) {
		return nil, "price not inside m15 setup zone"
	}

	m1Event, m1Dir := LatestStructureEvent(m1)
	if m1Dir != bias || (m1Event != CHoCH && m1Event != BOS) {
		return nil, "no m1 confirmation in bias direction"
	}

	m1Ob := FindOrderBlock(m1, len(m1)-1, bias)
	if m1Ob == nil {
		return nil, "no refined m1 order block"
	}

	entry := m1Ob.EntryAnchor(bias)
	if zone.FVG != nil {
		// Fall back toward the FVG midpoint when the OB anchor sits
		// outside the preferred zone, per spec.md §4.4 step 3.
		if !zone.Contains(entry, decimal.Zero) {
			entry = zone.FVG.Mid()
		}
	}

	stopBufferPrice := g.pips.PipsToPrice(symbol, g.cfg.StopBufferPips)
	sl, tp := computeStopsAndTargets(bias, entry, m1Ob, stopBufferPrice, g.cfg.RiskReward)

	kind := broker.OrderKindMarket
	if !entry.Equal(currentPrice) {
		kind = broker.OrderKindLimit
	}

	meta := SignalMeta{
		HTFTrend:           bias,
		Structure:          m1Event,
		StructureDirection: m1Dir,
		FVG:                zone.FVG,
		OrderBlockZone:     zone.OrderBlock,
		PremiumDiscount:    ClassifyPremiumDiscount(m15, entry),
		LiquiditySwept:     LiquiditySwept(m1, bias),
		DisplacementCandle: true,
		ConfluenceScore:    confluenceScore(zone, m1Event, bias, m1),
	}

	sig := TradeSignal{
		Symbol:     symbol,
		Direction:  bias,
		Entry:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		OrderKind:  kind,
		Reason:     "smc setup confirmed",
		Meta:       meta,
	}

	lastBOS, lastCHoCH := liveLTFStructure(m15)

	raw := &RawSignal{
		Signal: sig,
		TimeframeContext: TimeframeContext{
			HTFTimeframe: g.cfg.HTFTimeframe,
			HTFTrend:     bias,
			LTFTimeframe: g.cfg.LTFTimeframe,
			LTFStructure: m1Event,
			LastBOS:      lastBOS,
			LastCHoCH:    lastCHoCH,
		},
		SMCMetadata: meta,
	}
	return raw, ""
}

// liveLTFStructure reports the most recent BOS and CHoCH directions on
// the full, untruncated m15 series. This is independent of
// findSetupZone's search, which only ever walks candles up to the
// displacement candle and only accepts breaks matching bias by
// construction, so re-deriving LastBOS/LastCHoCH from that same
// truncated check would always trivially match HTFTrend. Each return
// is the Direction zero value ("") when the latest break isn't of
// that kind, so gateVolumeImbalance degrades to a pass rather than
// comparing a bias-agreeing placeholder against itself.
func liveLTFStructure(m15 []market.Candle) (lastBOS, lastCHoCH Direction) {
	event, dir := LatestStructureEvent(m15)
	if event == BOS {
		lastBOS = dir
	}
	if event == CHoCH {
		lastCHoCH = dir
	}
	return lastBOS, lastCHoCH
}

// findSetupZone scans m15 candles for a BOS/CHoCH in bias direction with
// a qualifying displacement candle and at least one of its FVG and
// preceding order block.
func (g *Generator) findSetupZone(candles []market.Candle, bias Direction) (Zone, int, bool) {
	for i := len(candles) - 1; i >= g.cfg.DisplacementATRPeriod+1; i-- {
		event, dir := LatestStructureEvent(candles[:i+1])
		if (event != BOS && event != CHoCH) || dir != bias {
			continue
		}
		if !IsDisplacement(candles, i, g.cfg.DisplacementATRPeriod, g.cfg.DisplacementATRMultiplier) {
			continue
		}
		fvg := FindFVG(candles, i, bias)
		ob := FindOrderBlock(candles, i, bias)
		if fvg == nil && ob == nil {
			continue
		}
		return Zone{FVG: fvg, OrderBlock: ob}, i, true
	}
	return Zone{}, 0, false
}

// computeStopsAndTargets places the stop beyond the M1 order block by
// bufferPrice and the target at R multiples of the stop distance, per
// spec.md §4.4 step 4.
func computeStopsAndTargets(dir Direction, entry decimal.Decimal, ob *OrderBlock, bufferPrice, rr decimal.Decimal) (sl, tp decimal.Decimal) {
	if dir == Bullish {
		sl = ob.Low.Sub(bufferPrice)
		dist := entry.Sub(sl)
		tp = entry.Add(dist.Mul(rr))
		return sl, tp
	}
	sl = ob.High.Add(bufferPrice)
	dist := sl.Sub(entry)
	tp = entry.Sub(dist.Mul(rr))
	return sl, tp
}

// confluenceScore combines structural confluence (FVG/OB presence, CHoCH
// vs BOS, directional bias) with momentum confirmation from the M1
// refinement series: RSI and Stochastic each add a point when they agree
// with bias, so a setup with structure but fading momentum scores lower
// than one with both aligned.
func confluenceScore(zone Zone, event StructureEvent, bias Direction, m1 []market.Candle) int {
	score := 0
	if zone.FVG != nil {
		score++
	}
	if zone.OrderBlock != nil {
		score++
	}
	if event == CHoCH {
		score++
	}
	if bias != Sideways {
		score++
	}

	closes := make([]decimal.Decimal, len(m1))
	highs := make([]decimal.Decimal, len(m1))
	lows := make([]decimal.Decimal, len(m1))
	for i, c := range m1 {
		closes[i], highs[i], lows[i] = c.Close, c.High, c.Low
	}
	midpoint := decimal.NewFromInt(50)

	if rsi := indicators.RSI(closes, confluenceRSIPeriod); len(rsi) > 0 {
		latest := rsi[len(rsi)-1]
		if (bias == Bullish && latest.GreaterThan(midpoint)) || (bias == Bearish && latest.LessThan(midpoint)) {
			score++
		}
	}

	if stoch := indicators.Stochastic(highs, lows, closes, confluenceStochasticPeriod); len(stoch) > 0 {
		latest := stoch[len(stoch)-1]
		if (bias == Bullish && latest.GreaterThan(midpoint)) || (bias == Bearish && latest.LessThan(midpoint)) {
			score++
		}
	}

	return score
}
