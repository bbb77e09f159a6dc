package exit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/pipvalue"
)

type fakeBroker struct {
	modifyCalls []string
	closeCalls  []string
	modifyErr   error
	closeErr    error
}

func (f *fakeBroker) GetPrice(ctx context.Context, symbol string) (broker.Price, error) {
	return broker.Price{}, nil
}
func (f *fakeBroker) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	return nil, nil
}
func (f *fakeBroker) OpenTrade(ctx context.Context, req broker.OpenTradeRequest) (broker.OpenTradeResult, error) {
	return broker.OpenTradeResult{}, nil
}
func (f *fakeBroker) CloseTrade(ctx context.Context, ticket string) (broker.CloseTradeResult, error) {
	f.closeCalls = append(f.closeCalls, ticket)
	return broker.CloseTradeResult{Success: true}, f.closeErr
}
func (f *fakeBroker) ModifyTrade(ctx context.Context, ticket string, sl, tp decimal.Decimal) (broker.ModifyTradeResult, error) {
	f.modifyCalls = append(f.modifyCalls, ticket)
	return broker.ModifyTradeResult{Success: true}, f.modifyErr
}
func (f *fakeBroker) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]broker.Candle, error) {
	return nil, nil
}

var _ broker.Broker = (*fakeBroker)(nil)

func seedCandles(store *market.Store, symbol string, closePrice decimal.Decimal, start time.Time) {
	store.Append(market.Candle{
		Symbol: symbol, Timeframe: market.M1,
		Open: closePrice, High: closePrice, Low: closePrice, Close: closePrice,
		StartTime: start, EndTime: start.Add(time.Minute),
	})
}

func seedCandleSeries(store *market.Store, symbol string, closes []decimal.Decimal, start time.Time) {
	for i, c := range closes {
		t := start.Add(time.Duration(i) * time.Minute)
		store.Append(market.Candle{
			Symbol: symbol, Timeframe: market.M1,
			Open: c, High: c, Low: c, Close: c,
			StartTime: t, EndTime: t.Add(time.Minute),
		})
	}
}

func TestRunner_ModifyStopAppliedOnBreakEvenTrigger(t *testing.T) {
	fb := &fakeBroker{}
	store := market.NewStore(100)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	seedCandles(store, "EURUSD", decimal.NewFromFloat(1.1020), now)

	engine := NewEngine(DefaultConfig())
	engine.Register(Plan{
		Ticket: "T1", Symbol: "EURUSD", Direction: broker.DirectionBuy,
		EntryPrice: decimal.NewFromFloat(1.1000), StopLossInitial: decimal.NewFromFloat(1.0990),
		BreakEvenTriggerR: decimal.NewFromInt(1), OpenedAt: now,
	})

	runner := NewRunner(engine, fb, store, pipvalue.DefaultTable(), killswitch.New(killswitch.DefaultConfig()), time.Second)
	runner.now = func() time.Time { return now }

	runner.tick(context.Background())

	require.Len(t, fb.modifyCalls, 1)
	assert.Equal(t, "T1", fb.modifyCalls[0])
}

func TestRunner_CloseAppliedWhenKillSwitchArmed(t *testing.T) {
	fb := &fakeBroker{}
	store := market.NewStore(100)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	seedCandles(store, "EURUSD", decimal.NewFromFloat(1.1000), now)

	engine := NewEngine(DefaultConfig())
	engine.Register(Plan{
		Ticket: "T2", Symbol: "EURUSD", Direction: broker.DirectionBuy,
		EntryPrice: decimal.NewFromFloat(1.1000), StopLossInitial: decimal.NewFromFloat(1.0990),
		OpenedAt: now,
	})

	ks := killswitch.New(killswitch.DefaultConfig())
	ks.Evaluate(now, killswitch.ScopeGlobal, "", killswitch.Metrics{ConsecutiveLosses: 999})

	runner := NewRunner(engine, fb, store, pipvalue.DefaultTable(), ks, time.Second)
	runner.now = func() time.Time { return now }

	runner.tick(context.Background())

	require.Len(t, fb.closeCalls, 1)
	assert.Equal(t, "T2", fb.closeCalls[0])
	assert.False(t, engine.Tracked("T2"))
}

func TestRunner_NoCandlesSkipsPlanWithoutPanicking(t *testing.T) {
	fb := &fakeBroker{}
	store := market.NewStore(100)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	engine := NewEngine(DefaultConfig())
	engine.Register(Plan{Ticket: "T3", Symbol: "GBPUSD", Direction: broker.DirectionBuy, OpenedAt: now})

	runner := NewRunner(engine, fb, store, pipvalue.DefaultTable(), killswitch.New(killswitch.DefaultConfig()), time.Second)
	runner.now = func() time.Time { return now }

	assert.NotPanics(t, func() { runner.tick(context.Background()) })
	assert.Empty(t, fb.modifyCalls)
	assert.Empty(t, fb.closeCalls)
}

func TestRunner_VolatilityMultiplierNeutralWithInsufficientHistory(t *testing.T) {
	store := market.NewStore(100)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	seedCandles(store, "EURUSD", decimal.NewFromFloat(1.1000), now)

	runner := NewRunner(NewEngine(DefaultConfig()), &fakeBroker{}, store, pipvalue.DefaultTable(), killswitch.New(killswitch.DefaultConfig()), time.Second)

	mult := runner.volatilityMultiplier("EURUSD")

	assert.True(t, mult.Equal(decimal.NewFromInt(1)), "expected neutral multiplier before bbPeriod+bbWindow candles accumulate")
}

func TestRunner_VolatilityMultiplierWidensAsBandsExpand(t *testing.T) {
	store := market.NewStore(200)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	quiet := make([]decimal.Decimal, 20)
	for i := range quiet {
		if i%2 == 0 {
			quiet[i] = decimal.NewFromFloat(1.1000)
		} else {
			quiet[i] = decimal.NewFromFloat(1.1001)
		}
	}
	flatStore := market.NewStore(200)
	seedCandleSeries(flatStore, "EURUSD", quiet, now)
	seedCandleSeries(flatStore, "EURUSD", quiet, now.Add(20*time.Minute))

	expanding := make([]decimal.Decimal, 20)
	for i := range expanding {
		amplitude := decimal.NewFromFloat(0.0005).Add(decimal.NewFromFloat(0.00025).Mul(decimal.NewFromInt(int64(i))))
		if i%2 == 0 {
			expanding[i] = decimal.NewFromFloat(1.1000).Add(amplitude)
		} else {
			expanding[i] = decimal.NewFromFloat(1.1000).Sub(amplitude)
		}
	}
	seedCandleSeries(store, "EURUSD", quiet, now)
	seedCandleSeries(store, "EURUSD", expanding, now.Add(20*time.Minute))

	runner := NewRunner(NewEngine(DefaultConfig()), &fakeBroker{}, store, pipvalue.DefaultTable(), killswitch.New(killswitch.DefaultConfig()), time.Second)
	flatRunner := NewRunner(NewEngine(DefaultConfig()), &fakeBroker{}, flatStore, pipvalue.DefaultTable(), killswitch.New(killswitch.DefaultConfig()), time.Second)

	expandingMult := runner.volatilityMultiplier("EURUSD")
	flatMult := flatRunner.volatilityMultiplier("EURUSD")

	assert.True(t, expandingMult.GreaterThan(flatMult), "a widening band should read a higher multiplier than a flat one, got expanding=%s flat=%s", expandingMult, flatMult)
	assert.True(t, expandingMult.GreaterThan(decimal.NewFromInt(1)), "expanding volatility should push the multiplier above neutral, got %s", expandingMult)
	assert.True(t, expandingMult.LessThanOrEqual(volatilityMultiplierCeiling), "multiplier must stay within the clamp ceiling")
}
