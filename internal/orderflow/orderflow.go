// Package orderflow produces per-symbol delta/imbalance/absorption
// snapshots from the candle store, at a configurable cadence. Consumed
// only by the Execution Filter; a failure to compute a snapshot degrades
// gracefully — the filter simply skips order-flow gates (spec.md §4.8).
//
// Grounded on the snapshot-replace idiom of FOTONPHOTOS-PULSEINTEL's
// internal/analytics/delta_tape_analyzer.go (cumulative delta, flow
// momentum, absorption), simplified from raw trade-tape analysis to
// candle-derived approximations since this engine only has OHLCV bars,
// not a trade tape, and re-expressed in decimal.Decimal throughout.
package orderflow

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/indicators"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/pkg/mathutil"
)

// Config controls snapshot cadence and detection thresholds, mirroring
// spec.md §6's orderFlow.* configuration keys.
type Config struct {
	Enabled                   bool
	PollInterval              time.Duration
	LargeOrderMultiplier      decimal.Decimal // candle volume >= multiplier * rolling median is "large"
	MinDeltaTrendConfirmation int             // consecutive same-sign deltas required to confirm a trend
	ExhaustionThreshold       decimal.Decimal // delta momentum below this after a large move signals exhaustion
	AbsorptionLookback        int             // candles considered for the rolling median
	MomentumLookback          int             // candles considered for VWAP/MACD momentum confirmation
	MACDFastPeriod            int
	MACDSlowPeriod            int
	MACDSignalPeriod          int
}

// DefaultConfig gives reasonable values pending operator override.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		PollInterval:              5 * time.Second,
		LargeOrderMultiplier:      decimal.NewFromFloat(2.0),
		MinDeltaTrendConfirmation: 3,
		ExhaustionThreshold:       decimal.NewFromFloat(0.1),
		AbsorptionLookback:        20,
		MomentumLookback:          50,
		MACDFastPeriod:            12,
		MACDSlowPeriod:            26,
		MACDSignalPeriod:          9,
	}
}

// Snapshot is the per-symbol order-flow state the Execution Filter reads.
// It is always a fully-formed snapshot — replaced as a whole, never
// mutated in place, so a reader never observes a torn view.
type Snapshot struct {
	Symbol           string
	Delta1s          decimal.Decimal
	Delta5s          decimal.Decimal
	Delta15s         decimal.Decimal
	Delta60s         decimal.Decimal
	CumulativeDelta  decimal.Decimal
	BuyPressure      decimal.Decimal // 0..1
	SellPressure     decimal.Decimal // 0..1
	Imbalance        decimal.Decimal // buyPressure - sellPressure, -1..1
	LargeOrderCount  int
	AbsorptionBuy    bool
	AbsorptionSell   bool
	DeltaMomentum    decimal.Decimal
	VWAP             decimal.Decimal // volume-weighted average over MomentumLookback candles, zero when not enough history
	MACDHistogram    decimal.Decimal // latest MACD histogram value over MomentumLookback candles
	LastUpdated      time.Time
}

// Snapshotter computes and caches one Snapshot per symbol.
type Snapshotter struct {
	cfg   Config
	store *market.Store
	log   *logger.Logger

	mu   sync.RWMutex
	last map[string]Snapshot
}

// NewSnapshotter creates a Snapshotter reading candles from store.
func NewSnapshotter(cfg Config, store *market.Store) *Snapshotter {
	return &Snapshotter{
		cfg:   cfg,
		store: store,
		log:   logger.Component("orderflow"),
		last:  make(map[string]Snapshot),
	}
}

// Refresh recomputes the snapshot for symbol from the latest M1 candles.
// Volume direction is approximated from each candle's own close-vs-open
// (bullish candles contribute to buy volume, bearish to sell volume), the
// only signal available without a raw trade tape.
func (s *Snapshotter) Refresh(symbol string, now time.Time) {
	if !s.cfg.Enabled {
		return
	}

	candles := s.store.LastN(symbol, s.cfg.AbsorptionLookback)
	if len(candles) == 0 {
		return
	}

	snap := Snapshot{Symbol: symbol, LastUpdated: now}

	buyVol := decimal.Zero
	sellVol := decimal.Zero
	deltas := make([]decimal.Decimal, 0, len(candles))
	for _, c := range candles {
		d := decimal.Zero
		switch {
		case c.IsBullish():
			buyVol = buyVol.Add(c.Volume)
			d = c.Volume
		case c.IsBearish():
			sellVol = sellVol.Add(c.Volume)
			d = c.Volume.Neg()
		}
		deltas = append(deltas, d)
	}

	snap.CumulativeDelta = buyVol.Sub(sellVol)
	total := buyVol.Add(sellVol)
	if total.IsPositive() {
		snap.BuyPressure = buyVol.Div(total)
		snap.SellPressure = sellVol.Div(total)
		snap.Imbalance = snap.BuyPressure.Sub(snap.SellPressure)
	}

	snap.Delta1s = windowSum(deltas, 1)
	snap.Delta5s = windowSum(deltas, 5)
	snap.Delta15s = windowSum(deltas, 15)
	snap.Delta60s = windowSum(deltas, 60)

	median := medianVolume(candles)
	threshold := median.Mul(s.cfg.LargeOrderMultiplier)
	for _, c := range candles {
		if c.Volume.GreaterThanOrEqual(threshold) && threshold.IsPositive() {
			snap.LargeOrderCount++
		}
	}

	snap.DeltaMomentum = deltaMomentum(deltas)
	snap.AbsorptionBuy = detectAbsorption(candles, true, s.cfg.ExhaustionThreshold)
	snap.AbsorptionSell = detectAbsorption(candles, false, s.cfg.ExhaustionThreshold)

	snap.VWAP, snap.MACDHistogram = s.momentum(symbol)

	s.mu.Lock()
	s.last[symbol] = snap
	s.mu.Unlock()
}

// momentum reads VWAP and the latest MACD histogram value over
// MomentumLookback candles, a separate and larger window than
// AbsorptionLookback since MACD(12,26,9) needs more history than the
// delta/absorption math to produce a value. Returns zeros when there
// isn't enough history yet.
func (s *Snapshotter) momentum(symbol string) (vwap, macdHistogram decimal.Decimal) {
	candles := s.store.LastN(symbol, s.cfg.MomentumLookback)
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero
	}

	closes := make([]decimal.Decimal, len(candles))
	volumes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	vwap = indicators.VWAP(closes, volumes)
	if _, _, hist := indicators.MACD(closes, s.cfg.MACDFastPeriod, s.cfg.MACDSlowPeriod, s.cfg.MACDSignalPeriod); len(hist) > 0 {
		macdHistogram = hist[len(hist)-1]
	}
	return vwap, macdHistogram
}

// Get returns the last computed snapshot for symbol, if any.
func (s *Snapshotter) Get(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.last[symbol]
	return snap, ok
}

func windowSum(deltas []decimal.Decimal, n int) decimal.Decimal {
	if n > len(deltas) {
		n = len(deltas)
	}
	sum := decimal.Zero
	for _, d := range deltas[len(deltas)-n:] {
		sum = sum.Add(d)
	}
	return sum
}

func medianVolume(candles []market.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	vols := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		vols[i] = c.Volume
	}
	// Simple insertion sort: lookback windows are small (tens of candles).
	for i := 1; i < len(vols); i++ {
		for j := i; j > 0 && vols[j].LessThan(vols[j-1]); j-- {
			vols[j], vols[j-1] = vols[j-1], vols[j]
		}
	}
	mid := len(vols) / 2
	if len(vols)%2 == 0 {
		return vols[mid-1].Add(vols[mid]).Div(decimal.NewFromInt(2))
	}
	return vols[mid]
}

// deltaMomentum is the rate of change of delta over the lookback window,
// normalized by the largest single-candle delta observed.
func deltaMomentum(deltas []decimal.Decimal) decimal.Decimal {
	if len(deltas) < 2 {
		return decimal.Zero
	}
	change := deltas[len(deltas)-1].Sub(deltas[0])
	maxAbs := decimal.Zero
	for _, d := range deltas {
		if d.Abs().GreaterThan(maxAbs) {
			maxAbs = d.Abs()
		}
	}
	if maxAbs.IsZero() {
		return decimal.Zero
	}
	return mathutil.ClampDecimal(change.Div(maxAbs), decimal.NewFromInt(-1), decimal.NewFromInt(1))
}

// detectAbsorption flags a large directional move whose follow-through
// delta has collapsed below threshold — a classic absorption signature
// (big volume, no continuation).
func detectAbsorption(candles []market.Candle, buySide bool, threshold decimal.Decimal) bool {
	if len(candles) < 2 {
		return false
	}
	prev := candles[len(candles)-2]
	last := candles[len(candles)-1]

	if buySide {
		if !prev.IsBullish() {
			return false
		}
	} else {
		if !prev.IsBearish() {
			return false
		}
	}

	lastMove := last.Close.Sub(last.Open).Abs()
	prevMove := prev.Close.Sub(prev.Open).Abs()
	if prevMove.IsZero() {
		return false
	}
	ratio := lastMove.Div(prevMove)
	return ratio.LessThan(threshold)
}
