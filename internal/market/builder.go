package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/logger"
)

// oneUnit is added to Volume per tick when no real traded volume is known;
// spec.md §3 permits volume to represent tick count in that case.
var oneUnit = decimal.NewFromInt(1)

// Builder maintains one open M1 candle per symbol, grounded on the
// multi-timeframe CandleBuilder map idiom in FOTONPHOTOS-PULSEINTEL's
// internal/analytics/ohlcv_candle_generator.go, adapted to a single M1
// writer per spec.md §4.2 (higher timeframes are derived lazily by Store).
type Builder struct {
	mu     sync.Mutex
	open   map[string]*Candle
	lastAt map[string]time.Time // last tick time accepted, per symbol
	store  *Store
	log    *logger.Logger
}

// NewBuilder creates a Builder that appends closed candles to store.
func NewBuilder(store *Store) *Builder {
	return &Builder{
		open:   make(map[string]*Candle),
		lastAt: make(map[string]time.Time),
		store:  store,
		log:    logger.Component("candle-builder"),
	}
}

// OnTick feeds one tick into the builder. Ticks with a time strictly before
// the last accepted tick for the symbol are discarded (spec.md §5: ticks
// are delivered in non-decreasing time order; out-of-order ticks dropped).
func (b *Builder) OnTick(t Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastAt[t.Symbol]; ok && t.Time.Before(last) {
		b.log.Debug("dropping out-of-order tick", "symbol", t.Symbol, "tick_time", t.Time, "last_time", last)
		return
	}
	b.lastAt[t.Symbol] = t.Time

	boundary := FloorToMinute(t.Time)
	cur, ok := b.open[t.Symbol]

	if !ok {
		b.open[t.Symbol] = b.newCandle(t, boundary)
		return
	}

	if cur.StartTime.Equal(boundary) {
		// Same minute: update high/low/close in place.
		if t.Mid.GreaterThan(cur.High) {
			cur.High = t.Mid
		}
		if t.Mid.LessThan(cur.Low) {
			cur.Low = t.Mid
		}
		cur.Close = t.Mid
		cur.Volume = cur.Volume.Add(oneUnit)
		return
	}

	if boundary.After(cur.StartTime) {
		// Minute boundary crossed: close the current candle, open a new one.
		// Gaps (minutes with no ticks) are allowed; nothing is synthesized.
		b.store.Append(*cur)
		b.open[t.Symbol] = b.newCandle(t, boundary)
		return
	}

	// boundary before cur.StartTime but time.Time >= lastAt is impossible
	// given the monotonic check above; defensive no-op.
}

func (b *Builder) newCandle(t Tick, boundary time.Time) *Candle {
	return &Candle{
		Symbol:    t.Symbol,
		Timeframe: M1,
		Open:      t.Mid,
		High:      t.Mid,
		Low:       t.Mid,
		Close:     t.Mid,
		Volume:    oneUnit,
		StartTime: boundary,
		EndTime:   boundary.Add(time.Minute),
	}
}

// CurrentCandle returns a snapshot of the in-progress candle for symbol, if
// any ticks have arrived for the current minute.
func (b *Builder) CurrentCandle(symbol string) (Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.open[symbol]
	if !ok {
		return Candle{}, false
	}
	return *c, true
}

// Flush force-closes the in-progress candle for symbol (used at shutdown or
// when a caller needs the latest partial bar persisted). It is a no-op if
// there is no open candle.
func (b *Builder) Flush(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.open[symbol]
	if !ok {
		return
	}
	b.store.Append(*c)
	delete(b.open, symbol)
}
