package smc

import (
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/indicators"
	"github.com/ictrader/engine/internal/market"
)

// DefaultDisplacementATRMultiplier is spec.md §4.4 step 2's default k:
// a displacement candle's body must be >= k * ATR.
var DefaultDisplacementATRMultiplier = decimal.NewFromFloat(2.0)

// IsDisplacement reports whether candle at index i is a displacement
// candle: body size >= multiplier * ATR(period) computed over the
// candles up to and including i.
func IsDisplacement(candles []market.Candle, i int, period int, multiplier decimal.Decimal) bool {
	if i < 0 || i >= len(candles) || i < period {
		return false
	}
	window := candles[:i+1]
	highs := closesOf(window, func(c market.Candle) decimal.Decimal { return c.High })
	lows := closesOf(window, func(c market.Candle) decimal.Decimal { return c.Low })
	closes := closesOf(window, func(c market.Candle) decimal.Decimal { return c.Close })

	atrSeries := indicators.ATR(highs, lows, closes, period)
	if len(atrSeries) == 0 {
		return false
	}
	atr := atrSeries[len(atrSeries)-1]
	if atr.IsZero() {
		return false
	}
	return candles[i].Body().GreaterThanOrEqual(atr.Mul(multiplier))
}

func closesOf(candles []market.Candle, sel func(market.Candle) decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = sel(c)
	}
	return out
}

// FindFVG looks for a Fair Value Gap created by a displacement candle at
// index i: a three-candle imbalance where candle i-1's high/low does not
// overlap candle i+1's low/high. Returns nil if no gap exists (i+1 is out
// of range, or the candles overlap).
func FindFVG(candles []market.Candle, i int, dir Direction) *FVG {
	if i <= 0 || i+1 >= len(candles) {
		return nil
	}
	before, after := candles[i-1], candles[i+1]

	if dir == Bullish && after.Low.GreaterThan(before.High) {
		return &FVG{Direction: Bullish, Low: before.High, High: after.Low, CreatedAt: candles[i]}
	}
	if dir == Bearish && after.High.LessThan(before.Low) {
		return &FVG{Direction: Bearish, Low: after.High, High: before.Low, CreatedAt: candles[i]}
	}
	return nil
}

// FindOrderBlock returns the opposite-direction candle immediately
// preceding the displacement candle at index i, per spec.md §4.4 step 2
// ("an Order Block immediately preceding the displacement"). Returns nil
// if that candle does not oppose dir.
func FindOrderBlock(candles []market.Candle, i int, dir Direction) *OrderBlock {
	if i <= 0 {
		return nil
	}
	c := candles[i-1]
	switch {
	case dir == Bullish && c.IsBearish():
		return &OrderBlock{Direction: Bullish, High: c.High, Low: c.Low, Open: c.Open, Close: c.Close, Candle: c}
	case dir == Bearish && c.IsBullish():
		return &OrderBlock{Direction: Bearish, High: c.High, Low: c.Low, Open: c.Open, Close: c.Close, Candle: c}
	default:
		return nil
	}
}

// ClassifyPremiumDiscount locates price within the high/low range of
// candles: below the 50% midpoint is discount, above is premium.
func ClassifyPremiumDiscount(candles []market.Candle, price decimal.Decimal) PremiumDiscount {
	if len(candles) == 0 {
		return Equilibrium
	}
	high, low := candles[0].High, candles[0].Low
	for _, c := range candles {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}
	mid := high.Add(low).Div(decimal.NewFromInt(2))
	switch {
	case price.GreaterThan(mid):
		return Premium
	case price.LessThan(mid):
		return Discount
	default:
		return Equilibrium
	}
}
