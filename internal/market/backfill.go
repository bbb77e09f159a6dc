package market

import (
	"context"
	"fmt"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/logger"
)

// Backfill seeds a Store from the broker bridge's historical-candles
// endpoint at startup (or before a replay), so the Signal Generator has
// H4/M15/M1 history immediately rather than waiting for the tick/candle-
// builder path to accumulate enough bars. Named in spec.md §2's component
// table but not detailed in §4; grounded on FOTONPHOTOS-PULSEINTEL's
// one-shot REST history seed (internal/analytics/historical_data_fetcher.go).
type Backfill struct {
	br    broker.Broker
	store *Store
	log   *logger.Logger
}

// NewBackfill creates a Backfill that seeds store via br.
func NewBackfill(br broker.Broker, store *Store) *Backfill {
	return &Backfill{br: br, store: store, log: logger.Component("backfill")}
}

// Seed fetches the last `limit` M1 candles for symbol and appends them to
// the store in chronological order. It is idempotent only in the sense
// that repeated calls simply append more history; callers should call it
// once per symbol at startup before the tick loop begins.
func (b *Backfill) Seed(ctx context.Context, symbol string, limit int) error {
	candles, err := b.br.GetCandles(ctx, symbol, string(M1), limit)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", symbol, err)
	}

	for _, c := range candles {
		mc := Candle{
			Symbol:    symbol,
			Timeframe: M1,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
		}
		if !mc.Valid() {
			b.log.Warn("skipping invalid backfill candle", "symbol", symbol, "start", c.StartTime)
			continue
		}
		b.store.Append(mc)
	}

	b.log.Info("backfill complete", "symbol", symbol, "candles", len(candles))
	return nil
}
