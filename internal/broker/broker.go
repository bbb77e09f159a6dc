// Package broker defines the interface to the external broker bridge and
// the wire types it exchanges with the core. The bridge itself — the
// component that translates these calls into a specific terminal's API and
// returns fills — is an external collaborator; this package only specifies
// the contract described in spec.md §6.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade signal or open position.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// OrderKind is the order type submitted to the broker bridge.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "market"
	OrderKindLimit      OrderKind = "limit"
	OrderKindStop       OrderKind = "stop"
	OrderKindStopLimit  OrderKind = "stop_limit"
)

// Common errors returned by a Broker implementation.
var (
	ErrNotConnected  = errors.New("broker: not connected")
	ErrSymbolUnknown = errors.New("broker: symbol not configured on bridge")
)

// Price is the latest bid/ask/mid for a symbol, as returned by
// GET /price/{symbol}.
type Price struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Mid    decimal.Decimal
	Time   time.Time
}

// OpenPosition mirrors one entry of GET /open-positions.
type OpenPosition struct {
	Ticket     string
	Symbol     string
	Direction  Direction
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	StopLoss   decimal.Decimal // zero means "unknown"
	TakeProfit decimal.Decimal
}

// HasStopLoss reports whether the position carries a known stop.
func (p OpenPosition) HasStopLoss() bool {
	return !p.StopLoss.IsZero()
}

// OpenTradeRequest is the body of POST /trades/open.
type OpenTradeRequest struct {
	Symbol         string
	Direction      Direction
	OrderKind      OrderKind
	Volume         decimal.Decimal
	EntryPrice     decimal.Decimal // optional, required for limit/stop kinds
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLimitPrice decimal.Decimal
	MagicNumber    int64
	Comment        string
}

// OpenTradeResult is the response to POST /trades/open.
type OpenTradeResult struct {
	Success bool
	Ticket  string
	Error   string
}

// CloseTradeResult is the response to POST /trades/close.
type CloseTradeResult struct {
	Success bool
	Profit  decimal.Decimal
	Error   string
}

// ModifyTradeResult is the response to POST /trades/modify.
type ModifyTradeResult struct {
	Success bool
	Error   string
}

// Candle is a single OHLCV bar as returned by a historical-candles query,
// used only for backfill seeding (internal/market.Backfill).
type Candle struct {
	Symbol    string
	Timeframe string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
}

// Broker is the interface the core consumes from the broker bridge. The
// first five methods correspond 1:1 to the endpoints named in spec.md §6;
// GetCandles is an additional call used only for historical backfill.
type Broker interface {
	GetPrice(ctx context.Context, symbol string) (Price, error)
	GetOpenPositions(ctx context.Context) ([]OpenPosition, error)
	OpenTrade(ctx context.Context, req OpenTradeRequest) (OpenTradeResult, error)
	CloseTrade(ctx context.Context, ticket string) (CloseTradeResult, error)
	ModifyTrade(ctx context.Context, ticket string, sl, tp decimal.Decimal) (ModifyTradeResult, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}
