package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a bar duration. M1 is the only timeframe the Builder writes;
// all others are derived by Store.Aggregate.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
)

// Minutes returns the timeframe's duration in minutes, or 0 if unknown.
func (tf Timeframe) Minutes() int {
	switch tf {
	case M1:
		return 1
	case M5:
		return 5
	case M15:
		return 15
	case H1:
		return 60
	case H4:
		return 240
	default:
		return 0
	}
}

// Candle is one OHLCV bar. Volume may represent tick count when only tick
// data is available (spec.md §3). Owned by the Store; mutated only by the
// Builder while open, immutable once closed.
type Candle struct {
	Symbol    string
	Timeframe Timeframe
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
}

// Valid checks the candle invariants from spec.md §3:
// low <= open,close <= high; startTime aligned; endTime = startTime + timeframe.
func (c Candle) Valid() bool {
	if c.Low.GreaterThan(c.Open) || c.Open.GreaterThan(c.High) {
		return false
	}
	if c.Low.GreaterThan(c.Close) || c.Close.GreaterThan(c.High) {
		return false
	}
	mins := c.Timeframe.Minutes()
	if mins <= 0 {
		return false
	}
	if !c.StartTime.Truncate(time.Duration(mins) * time.Minute).Equal(c.StartTime) {
		return false
	}
	return c.EndTime.Equal(c.StartTime.Add(time.Duration(mins) * time.Minute))
}

// Body returns the absolute size of the candle's body (|close - open|).
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close.LessThan(c.Open)
}

// Range returns the full high-low range of the candle.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// FloorToMinute truncates a timestamp to the start of its minute, the
// authoritative candle-boundary function used by the Builder.
func FloorToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
