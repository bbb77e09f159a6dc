// Package exposure polls the broker adapter for open positions and
// maintains a point-in-time snapshot of per-symbol and global exposure.
//
// Grounded on the teacher's internal/order.OrderBook snapshot-replace
// idiom (a full rebuild swapped into place under lock rather than
// incremental mutation), polled on the Tracker's own ticker in Run, and
// generalized here to use atomic.Pointer so readers never
// observe a partially-built snapshot (spec.md §4.7, §9 Design Notes).
package exposure

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/order"
	"github.com/ictrader/engine/internal/pipvalue"
)

// defaultRiskConstant is used for estimatedRisk when a position carries
// no stop loss, per spec.md §3 ("defaulted to a per-trade constant when
// the stop is unknown").
var defaultRiskConstant = decimal.NewFromInt(50)

// SymbolExposure aggregates open positions for one symbol.
type SymbolExposure struct {
	Symbol        string
	LongCount     int
	ShortCount    int
	TotalCount    int
	EstimatedRisk decimal.Decimal
}

// GlobalExposure aggregates open positions across every symbol.
type GlobalExposure struct {
	LongCount     int
	ShortCount    int
	TotalCount    int
	EstimatedRisk decimal.Decimal
}

// Snapshot is a fully-formed, immutable view of open exposure. Readers
// never see a torn snapshot: Tracker always swaps in a complete one.
type Snapshot struct {
	BySymbol    map[string]SymbolExposure
	Global      GlobalExposure
	Positions   *order.Book
	LastUpdated time.Time
}

// CanTakeExposure reports whether adding one more position for symbol
// stays within the caller-supplied per-symbol and global concurrent-trade
// caps. maxSymbol <= 0 means "no per-symbol cap".
func (s *Snapshot) CanTakeExposure(symbol string, maxSymbol, maxGlobal int) bool {
	if maxGlobal > 0 && s.Global.TotalCount >= maxGlobal {
		return false
	}
	if maxSymbol > 0 && s.BySymbol[symbol].TotalCount >= maxSymbol {
		return false
	}
	return true
}

// Tracker polls the broker for open positions and republishes a fresh
// Snapshot every pollInterval.
type Tracker struct {
	br           broker.Broker
	pips         *pipvalue.Table
	pollInterval time.Duration
	log          *logger.Logger

	current atomic.Pointer[Snapshot]
}

// NewTracker creates a Tracker. An empty Snapshot is published
// immediately so Current never returns nil.
func NewTracker(br broker.Broker, pips *pipvalue.Table, pollInterval time.Duration) *Tracker {
	t := &Tracker{
		br:           br,
		pips:         pips,
		pollInterval: pollInterval,
		log:          logger.Component("exposure"),
	}
	t.current.Store(&Snapshot{
		BySymbol:  make(map[string]SymbolExposure),
		Positions: order.NewBook(),
	})
	return t
}

// Current returns the most recently published snapshot.
func (t *Tracker) Current() *Snapshot {
	return t.current.Load()
}

// Run polls the broker on its own ticker until ctx is canceled. It is
// meant to be launched as a goroutine from cmd/engine/main.go.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh(ctx)
		}
	}
}

// refresh fetches open positions once and, on success, swaps in a new
// snapshot. A fetch error leaves the prior snapshot in place — callers
// (the orchestrator, which feeds the Execution Filter's exposure gate)
// treat a stale snapshot as usable but log the failure for operator
// visibility.
func (t *Tracker) refresh(ctx context.Context) {
	positions, err := t.br.GetOpenPositions(ctx)
	if err != nil {
		t.log.WithError(err).Warn("fetching open positions failed, keeping prior snapshot")
		return
	}
	t.current.Store(t.build(positions))
}

func (t *Tracker) build(positions []broker.OpenPosition) *Snapshot {
	book := order.NewBook()
	bySymbol := make(map[string]SymbolExposure)
	global := GlobalExposure{}

	for _, p := range positions {
		mp := order.FromBrokerPosition(p)
		book.Positions[mp.Ticket] = mp

		risk := t.estimatedRisk(p)

		se := bySymbol[p.Symbol]
		se.Symbol = p.Symbol
		se.TotalCount++
		global.TotalCount++
		if mp.Side == order.PositionSideLong {
			se.LongCount++
			global.LongCount++
		} else {
			se.ShortCount++
			global.ShortCount++
		}
		se.EstimatedRisk = se.EstimatedRisk.Add(risk)
		global.EstimatedRisk = global.EstimatedRisk.Add(risk)
		bySymbol[p.Symbol] = se
	}

	return &Snapshot{
		BySymbol:    bySymbol,
		Global:      global,
		Positions:   book,
		LastUpdated: time.Now(),
	}
}

// estimatedRisk is |entry - sl| * volume * pipValuePerLot / pipSize when
// the stop is known, otherwise the conservative per-trade constant.
func (t *Tracker) estimatedRisk(p broker.OpenPosition) decimal.Decimal {
	if !p.HasStopLoss() {
		return defaultRiskConstant
	}
	spec, _ := t.pips.Get(p.Symbol)
	if spec.PipSize.IsZero() {
		return defaultRiskConstant
	}
	pips := p.EntryPrice.Sub(p.StopLoss).Abs().Div(spec.PipSize)
	return pips.Mul(spec.PipValuePerLot).Mul(p.Volume)
}
