package market

import (
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultMaxCandles bounds the ring buffer per symbol when a Store is
// created without an explicit maximum.
const DefaultMaxCandles = 2000

// Store is a per-symbol, ordered-by-StartTime, bounded ring of closed M1
// candles. Single writer (the Builder); many readers. Readers always see
// either the pre-append or post-append state, never a partial append
// (spec.md §5) because the whole append happens under one lock.
type Store struct {
	mu         sync.RWMutex
	maxCandles int
	bySymbol   map[string][]Candle
}

// NewStore creates a Store bounded to maxCandles candles per symbol. A
// non-positive maxCandles falls back to DefaultMaxCandles.
func NewStore(maxCandles int) *Store {
	if maxCandles <= 0 {
		maxCandles = DefaultMaxCandles
	}
	return &Store{
		maxCandles: maxCandles,
		bySymbol:   make(map[string][]Candle),
	}
}

// Append adds a closed candle, evicting the oldest on overflow.
func (s *Store) Append(c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candles := s.bySymbol[c.Symbol]
	candles = append(candles, c)
	if len(candles) > s.maxCandles {
		candles = candles[len(candles)-s.maxCandles:]
	}
	s.bySymbol[c.Symbol] = candles
}

// Latest returns the most recent closed candle for symbol, if any.
func (s *Store) Latest(symbol string) (Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candles := s.bySymbol[symbol]
	if len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}

// LastN returns up to the last n closed candles for symbol, oldest first.
func (s *Store) LastN(symbol string, n int) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candles := s.bySymbol[symbol]
	if n <= 0 || n > len(candles) {
		n = len(candles)
	}
	out := make([]Candle, n)
	copy(out, candles[len(candles)-n:])
	return out
}

// Clear removes all stored candles for symbol.
func (s *Store) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySymbol, symbol)
}

// Aggregate derives an HN view by grouping consecutive M1 candles into
// timeframe-minute buckets. An HN bar requires N complete M1 bars
// (spec.md §4.3); a trailing partial group (fewer than N bars) is dropped
// since it does not yet represent a complete higher-timeframe bar.
func (s *Store) Aggregate(symbol string, tf Timeframe) []Candle {
	mins := tf.Minutes()
	if mins <= 1 {
		return s.LastN(symbol, 0)
	}

	m1 := s.LastN(symbol, 0)
	if len(m1) == 0 {
		return nil
	}

	groups := make(map[int64][]Candle)
	order := make([]int64, 0)
	for _, c := range m1 {
		bucket := c.StartTime.Unix() / int64(mins*60)
		if _, ok := groups[bucket]; !ok {
			order = append(order, bucket)
		}
		groups[bucket] = append(groups[bucket], c)
	}

	out := make([]Candle, 0, len(order))
	for _, bucket := range order {
		members := groups[bucket]
		if len(members) != mins {
			continue // incomplete group: not enough M1 bars yet
		}
		out = append(out, aggregateGroup(symbol, tf, members))
	}
	return out
}

func aggregateGroup(symbol string, tf Timeframe, members []Candle) Candle {
	high := members[0].High
	low := members[0].Low
	volume := decimal.Zero
	for _, m := range members {
		if m.High.GreaterThan(high) {
			high = m.High
		}
		if m.Low.LessThan(low) {
			low = m.Low
		}
		volume = volume.Add(m.Volume)
	}
	return Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Open:      members[0].Open,
		High:      high,
		Low:       low,
		Close:     members[len(members)-1].Close,
		Volume:    volume,
		StartTime: members[0].StartTime,
		EndTime:   members[len(members)-1].EndTime,
	}
}
