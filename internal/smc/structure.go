package smc

import (
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/market"
)

// SwingPivots finds three-candle swing highs and lows across candles:
// candle i is a swing high if its high exceeds both neighbors' highs, a
// swing low if its low is below both neighbors' lows. Candles need to be
// in chronological order.
func SwingPivots(candles []market.Candle) []SwingPivot {
	pivots := make([]SwingPivot, 0)
	for i := 1; i < len(candles)-1; i++ {
		prev, cur, next := candles[i-1], candles[i], candles[i+1]
		if cur.High.GreaterThan(prev.High) && cur.High.GreaterThan(next.High) {
			pivots = append(pivots, SwingPivot{Index: i, Price: cur.High, IsHigh: true, Candle: cur})
		}
		if cur.Low.LessThan(prev.Low) && cur.Low.LessThan(next.Low) {
			pivots = append(pivots, SwingPivot{Index: i, Price: cur.Low, IsHigh: false, Candle: cur})
		}
	}
	return pivots
}

// LatestStructureEvent walks the pivot sequence and classifies the most
// recent break: a BOS continues the prior swing direction, a CHoCH
// reverses it. It compares the latest close against the most recent
// opposite-type pivot before it (a close beyond the last swing high is a
// bullish break; beyond the last swing low, bearish).
func LatestStructureEvent(candles []market.Candle) (StructureEvent, Direction) {
	pivots := SwingPivots(candles)
	if len(pivots) < 2 || len(candles) == 0 {
		return None, Sideways
	}

	lastClose := candles[len(candles)-1].Close

	var lastHigh, lastLow *SwingPivot
	for i := len(pivots) - 1; i >= 0; i-- {
		p := pivots[i]
		if p.IsHigh && lastHigh == nil {
			lastHigh = &pivots[i]
		}
		if !p.IsHigh && lastLow == nil {
			lastLow = &pivots[i]
		}
		if lastHigh != nil && lastLow != nil {
			break
		}
	}

	brokeHigh := lastHigh != nil && lastClose.GreaterThan(lastHigh.Price)
	brokeLow := lastLow != nil && lastClose.LessThan(lastLow.Price)

	priorTrend := priorTrendDirection(pivots)

	switch {
	case brokeHigh && !brokeLow:
		if priorTrend == Bearish {
			return CHoCH, Bullish
		}
		return BOS, Bullish
	case brokeLow && !brokeHigh:
		if priorTrend == Bullish {
			return CHoCH, Bearish
		}
		return BOS, Bearish
	default:
		return None, Sideways
	}
}

// priorTrendDirection infers the trend in force before the latest break
// by comparing the two most recent pivot highs and the two most recent
// pivot lows: higher highs/higher lows is bullish, lower highs/lower
// lows is bearish, otherwise sideways.
func priorTrendDirection(pivots []SwingPivot) Direction {
	var highs, lows []decimal.Decimal
	for _, p := range pivots {
		if p.IsHigh {
			highs = append(highs, p.Price)
		} else {
			lows = append(lows, p.Price)
		}
	}
	if len(highs) >= 2 && highs[len(highs)-1].GreaterThan(highs[len(highs)-2]) &&
		len(lows) >= 2 && lows[len(lows)-1].GreaterThan(lows[len(lows)-2]) {
		return Bullish
	}
	if len(highs) >= 2 && highs[len(highs)-1].LessThan(highs[len(highs)-2]) &&
		len(lows) >= 2 && lows[len(lows)-1].LessThan(lows[len(lows)-2]) {
		return Bearish
	}
	return Sideways
}

// HTFBias computes the H4 directional bias per spec.md §4.4 step 1: the
// latest BOS or CHoCH sets the bias; no qualifying break is sideways.
func HTFBias(h4Candles []market.Candle) Direction {
	event, dir := LatestStructureEvent(h4Candles)
	if event == None {
		return Sideways
	}
	return dir
}

// LiquiditySwept reports whether the most recent candle took out (wicked
// beyond, then closed back inside) the prior swing extreme in the
// opposite direction of dir — a classic stop-hunt sweep preceding
// reversal, consulted by the Execution Filter's sweep gate.
func LiquiditySwept(candles []market.Candle, dir Direction) bool {
	pivots := SwingPivots(candles)
	if len(pivots) == 0 || len(candles) == 0 {
		return false
	}
	last := candles[len(candles)-1]

	for i := len(pivots) - 1; i >= 0; i-- {
		p := pivots[i]
		if dir == Bullish && !p.IsHigh {
			// Bullish setups sweep a low: wick below the pivot low, close back above it.
			return last.Low.LessThan(p.Price) && last.Close.GreaterThan(p.Price)
		}
		if dir == Bearish && p.IsHigh {
			return last.High.GreaterThan(p.Price) && last.Close.LessThan(p.Price)
		}
	}
	return false
}
