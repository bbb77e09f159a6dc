package smc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/pipvalue"
)

func TestGenerator_NoDirectionalBiasRejectsEarly(t *testing.T) {
	store := market.NewStore(1000)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Too few M1 candles to aggregate into even one complete H4 bar
	// (which requires 240 consecutive M1 bars): the H4 view is empty and
	// HTFBias degenerates to sideways.
	for i := 0; i < 10; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		store.Append(market.Candle{
			Symbol: "EURUSD", Timeframe: market.M1,
			Open: dd(1.1000), High: dd(1.1005), Low: dd(1.0995), Close: dd(1.1001),
			Volume: decimal.NewFromInt(1), StartTime: start, EndTime: start.Add(time.Minute),
		})
	}

	gen := NewGenerator(DefaultConfig(), store, pipvalue.DefaultTable())
	sig, reason := gen.Evaluate("EURUSD", dd(1.1000))
	assert.Nil(t, sig)
	assert.Equal(t, "no directional bias", reason)
}

func TestGenerator_InsufficientHistoryRejects(t *testing.T) {
	store := market.NewStore(1000)
	gen := NewGenerator(DefaultConfig(), store, pipvalue.DefaultTable())
	sig, reason := gen.Evaluate("EURUSD", dd(1.1000))
	assert.Nil(t, sig)
	assert.NotEmpty(t, reason)
}

func TestLiveLTFStructure_ReportsBOSOnBreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bos, choch := liveLTFStructure(seriesUptrend(base))
	assert.Equal(t, Bullish, bos)
	assert.Equal(t, Direction(""), choch, "a BOS break must not also report a CHoCH")
}

func TestLiveLTFStructure_ZeroValueWithoutBreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bos, choch := liveLTFStructure(flatSeries(base))
	assert.Equal(t, Direction(""), bos, "no live break must leave LastBOS at the Direction zero value, not a bias placeholder")
	assert.Equal(t, Direction(""), choch)
}

func TestComputeStopsAndTargets_BullishPlacesSLBelowOBAndTPAtRMultiple(t *testing.T) {
	ob := &OrderBlock{Low: dd(1.0980), High: dd(1.0990)}
	entry := dd(1.1000)
	sl, tp := computeStopsAndTargets(Bullish, entry, ob, dd(0.0003), decimal.NewFromInt(3))

	assert.True(t, sl.Equal(dd(1.0977)))
	dist := entry.Sub(sl)
	assert.True(t, tp.Equal(entry.Add(dist.Mul(decimal.NewFromInt(3)))))
	assert.True(t, tp.GreaterThan(entry))
}

func TestComputeStopsAndTargets_BearishPlacesSLAboveOB(t *testing.T) {
	ob := &OrderBlock{Low: dd(1.1010), High: dd(1.1020)}
	entry := dd(1.1000)
	sl, tp := computeStopsAndTargets(Bearish, entry, ob, dd(0.0003), decimal.NewFromInt(3))

	assert.True(t, sl.Equal(dd(1.1023)))
	assert.True(t, tp.LessThan(entry))
}
