package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/market"
)

type fakeBroker struct {
	broker.Broker
	calls    int32
	failN    int32 // fail the first N calls, then succeed
	price    broker.Price
	lastErr  error
}

func (f *fakeBroker) GetPrice(ctx context.Context, symbol string) (broker.Price, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failN {
		return broker.Price{}, errors.New("upstream unavailable")
	}
	return f.price, nil
}

func TestPoller_PollOnceSucceedsImmediately(t *testing.T) {
	store := market.NewStore(10)
	builder := market.NewBuilder(store)
	fb := &fakeBroker{price: broker.Price{
		Symbol: "EURUSD", Bid: decimal.NewFromFloat(1.1000), Ask: decimal.NewFromFloat(1.1002), Time: time.Now(),
	}}

	p := NewPoller(Config{Interval: time.Second, MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, fb, builder)
	p.pollOnce(context.Background(), "EURUSD")

	tick, ok := p.LastTick("EURUSD")
	require.True(t, ok)
	assert.True(t, tick.Bid.Equal(decimal.NewFromFloat(1.1000)))
}

func TestPoller_RetriesThenSucceeds(t *testing.T) {
	store := market.NewStore(10)
	builder := market.NewBuilder(store)
	fb := &fakeBroker{
		failN: 2,
		price: broker.Price{Symbol: "EURUSD", Bid: decimal.NewFromFloat(1.2), Ask: decimal.NewFromFloat(1.2002), Time: time.Now()},
	}

	p := NewPoller(Config{Interval: time.Second, MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, fb, builder)
	p.pollOnce(context.Background(), "EURUSD")

	tick, ok := p.LastTick("EURUSD")
	require.True(t, ok, "should have succeeded within MaxRetries attempts")
	assert.True(t, tick.Bid.Equal(decimal.NewFromFloat(1.2)))
	assert.Equal(t, int32(3), fb.calls)
}

func TestPoller_ExhaustsRetriesWithoutTick(t *testing.T) {
	store := market.NewStore(10)
	builder := market.NewBuilder(store)
	fb := &fakeBroker{failN: 100}

	p := NewPoller(Config{Interval: time.Second, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, fb, builder)
	p.pollOnce(context.Background(), "EURUSD")

	_, ok := p.LastTick("EURUSD")
	assert.False(t, ok, "no tick should be cached when every attempt in the cycle fails")
	assert.Equal(t, int32(2), fb.calls)
}
