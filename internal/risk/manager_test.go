package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/pipvalue"
)

func newTestManager() *Manager {
	return NewManager(DefaultConfig(), pipvalue.DefaultTable())
}

func TestCanTakeNewTrade_AllowsWithinCaps(t *testing.T) {
	m := newTestManager()
	decision := m.CanTakeNewTrade(RequestContext{
		Strategy:         "ict",
		Symbol:           "EURUSD",
		AccountEquity:    decimal.NewFromInt(10000),
		TodayRealizedPnL: decimal.NewFromInt(-50),
	})
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AdjustedRiskPercent.Equal(decimal.NewFromFloat(1)))
}

func TestCanTakeNewTrade_BlocksOnDailyLossCap(t *testing.T) {
	m := newTestManager()
	decision := m.CanTakeNewTrade(RequestContext{
		Symbol:           "EURUSD",
		AccountEquity:    decimal.NewFromInt(10000),
		TodayRealizedPnL: decimal.NewFromInt(-300), // -3% == cap
	})
	assert.False(t, decision.Allowed)
	assert.Equal(t, "daily loss cap reached", decision.Reason)
}

func TestCanTakeNewTrade_BlocksOnStrategyTradeCap(t *testing.T) {
	m := newTestManager()
	decision := m.CanTakeNewTrade(RequestContext{
		Symbol:                     "EURUSD",
		AccountEquity:              decimal.NewFromInt(10000),
		TradesTakenTodayByStrategy: 10,
	})
	assert.False(t, decision.Allowed)
	assert.Equal(t, "strategy daily trade cap reached", decision.Reason)
}

func TestCanTakeNewTrade_ReducedGuardrailModeHalvesRisk(t *testing.T) {
	m := newTestManager()
	decision := m.CanTakeNewTrade(RequestContext{
		Symbol:        "EURUSD",
		GuardrailMode: "reduced",
		AccountEquity: decimal.NewFromInt(10000),
	})
	assert.True(t, decision.Allowed)
	assert.True(t, decision.AdjustedRiskPercent.Equal(decimal.NewFromFloat(0.5)))
}

func TestCanTakeNewTrade_PerSymbolRiskOverrideTakesPrecedence(t *testing.T) {
	m := newTestManager()
	decision := m.CanTakeNewTrade(RequestContext{
		Symbol:        "XAUUSD",
		AccountEquity: decimal.NewFromInt(10000),
	})
	assert.True(t, decision.AdjustedRiskPercent.Equal(decimal.NewFromFloat(0.5)))
}

func TestIsSpreadAcceptable_SkippedWhenFilterOwnsSpread(t *testing.T) {
	m := newTestManager()
	assert.True(t, m.IsSpreadAcceptable("EURUSD", decimal.NewFromInt(999), true))
}

func TestIsSpreadAcceptable_ChecksAgainstSymbolMax(t *testing.T) {
	m := newTestManager()
	assert.True(t, m.IsSpreadAcceptable("EURUSD", decimal.NewFromFloat(1.5), false))
	assert.False(t, m.IsSpreadAcceptable("EURUSD", decimal.NewFromFloat(2.5), false))
}

func TestPositionSize_ScalesWithEquityAndRiskPercent(t *testing.T) {
	m := newTestManager()
	ctx := RequestContext{
		Symbol:        "EURUSD",
		AccountEquity: decimal.NewFromInt(10000),
	}
	lots, err := m.PositionSize(ctx, decimal.NewFromInt(20), decimal.NewFromFloat(1.1000))
	require.NoError(t, err)
	// riskAmount = 10000 * 1% = 100; lots = 100 / (20 * 10) = 0.5
	assert.True(t, lots.Equal(decimal.NewFromFloat(0.5)))
}

func TestPositionSize_RoundsDownToLotStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LotStep = decimal.NewFromFloat(0.1)
	m := NewManager(cfg, pipvalue.DefaultTable())
	ctx := RequestContext{Symbol: "EURUSD", AccountEquity: decimal.NewFromInt(10333)}
	lots, err := m.PositionSize(ctx, decimal.NewFromInt(20), decimal.NewFromFloat(1.1000))
	require.NoError(t, err)
	assert.True(t, lots.Mod(decimal.NewFromFloat(0.1)).IsZero())
}

func TestPositionSize_RejectsZeroStopLossDistance(t *testing.T) {
	m := newTestManager()
	_, err := m.PositionSize(RequestContext{Symbol: "EURUSD", AccountEquity: decimal.NewFromInt(10000)}, decimal.Zero, decimal.NewFromFloat(1.1000))
	assert.Error(t, err)
}

func TestPositionSize_UnknownSymbolFallsBackToDefaultSpec(t *testing.T) {
	m := NewManager(DefaultConfig(), pipvalue.NewTable(nil))
	lots, err := m.PositionSize(RequestContext{Symbol: "ZZZUNKNOWN", AccountEquity: decimal.NewFromInt(10000)}, decimal.NewFromInt(20), decimal.NewFromFloat(1.0))
	require.NoError(t, err)
	assert.True(t, lots.GreaterThan(decimal.Zero))
}

func TestPositionSize_BelowMinimumLotRejected(t *testing.T) {
	m := newTestManager()
	ctx := RequestContext{Symbol: "EURUSD", AccountEquity: decimal.NewFromInt(1)}
	_, err := m.PositionSize(ctx, decimal.NewFromInt(20), decimal.NewFromFloat(1.1000))
	assert.Error(t, err)
}
