// Package market implements the market-data ingestion path: ticks from the
// price feed are aggregated into 1-minute candles by the Builder and held in
// a per-symbol rolling Store, with lazily-derived multi-timeframe views.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one bid/ask/mid observation for a symbol. Immutable once created.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Mid    decimal.Decimal
	Time   time.Time
}

// NewTick builds a Tick, always deriving Mid as the midpoint of bid and ask.
func NewTick(symbol string, bid, ask decimal.Decimal, at time.Time) Tick {
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	return Tick{Symbol: symbol, Bid: bid, Ask: ask, Mid: mid, Time: at}
}

// SpreadPips returns the bid/ask spread in pips given a symbol's pip size.
func (t Tick) SpreadPips(pipSize decimal.Decimal) decimal.Decimal {
	if pipSize.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid).Div(pipSize)
}
