package killswitch

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Global = Thresholds{
		MaxDailyLossPercent:  decimal.NewFromInt(3),
		MaxConsecutiveLosses: 3,
		MaxTradesPerDay:      10,
		MaxSpreadPips:        decimal.NewFromInt(5),
		MaxExposureRisk:      decimal.NewFromInt(500),
	}
	return cfg
}

func TestEvaluate_StaysDisarmedWithinAllThresholds(t *testing.T) {
	sw := New(testConfig())
	armed, reasons := sw.Evaluate(time.Now(), ScopeGlobal, "", Metrics{DailyLossPercent: decimal.NewFromInt(1)})
	assert.False(t, armed)
	assert.Empty(t, reasons)
}

func TestEvaluate_ArmsOnDailyLossThreshold(t *testing.T) {
	sw := New(testConfig())
	armed, reasons := sw.Evaluate(time.Now(), ScopeGlobal, "", Metrics{DailyLossPercent: decimal.NewFromInt(3)})
	require.True(t, armed)
	assert.Contains(t, reasons, "realized daily loss exceeds threshold")
}

func TestEvaluate_AccumulatesMultipleTripReasons(t *testing.T) {
	sw := New(testConfig())
	_, reasons := sw.Evaluate(time.Now(), ScopeGlobal, "", Metrics{
		DailyLossPercent:  decimal.NewFromInt(5),
		ConsecutiveLosses: 4,
	})
	assert.Len(t, reasons, 2)
}

func TestEvaluate_OnceArmedIgnoresRecoveredMetrics(t *testing.T) {
	sw := New(testConfig())
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	armed, _ := sw.Evaluate(now, ScopeGlobal, "", Metrics{DailyLossPercent: decimal.NewFromInt(3)})
	require.True(t, armed)

	later := now.Add(time.Hour)
	armed, reasons := sw.Evaluate(later, ScopeGlobal, "", Metrics{DailyLossPercent: decimal.Zero})
	assert.True(t, armed, "arming persists even once the underlying metric recovers")
	assert.NotEmpty(t, reasons)
}

func TestEvaluate_AutoDisarmsAtNextDayBoundary(t *testing.T) {
	sw := New(testConfig())
	armedAt := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	armed, _ := sw.Evaluate(armedAt, ScopeGlobal, "", Metrics{DailyLossPercent: decimal.NewFromInt(3)})
	require.True(t, armed)

	nextDay := time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
	armed, reasons := sw.Evaluate(nextDay, ScopeGlobal, "", Metrics{DailyLossPercent: decimal.Zero})
	assert.False(t, armed)
	assert.Empty(t, reasons)
}

func TestEvaluate_PerSymbolScopesAreIndependent(t *testing.T) {
	sw := New(testConfig())
	now := time.Now()

	armed, _ := sw.Evaluate(now, ScopeSymbol, "EURUSD", Metrics{DailyLossPercent: decimal.NewFromInt(3)})
	require.True(t, armed)

	armed, _ = sw.Evaluate(now, ScopeSymbol, "GBPUSD", Metrics{DailyLossPercent: decimal.Zero})
	assert.False(t, armed, "arming one symbol must not arm another")
}

func TestEvaluate_PerSymbolThresholdOverrideTakesPrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.PerSymbol = map[string]Thresholds{
		"XAUUSD": {MaxSpreadPips: decimal.NewFromInt(50)},
	}
	sw := New(cfg)

	armed, _ := sw.Evaluate(time.Now(), ScopeSymbol, "XAUUSD", Metrics{SpreadPips: decimal.NewFromInt(20)})
	assert.False(t, armed, "XAUUSD's wider override spread threshold is not tripped")
}

func TestReset_DisarmsManually(t *testing.T) {
	sw := New(testConfig())
	now := time.Now()

	armed, _ := sw.Evaluate(now, ScopeStrategy, "ict-core", Metrics{ConsecutiveLosses: 3})
	require.True(t, armed)

	sw.Reset(ScopeStrategy, "ict-core", now.Add(time.Minute))

	armed, reasons := sw.IsArmed(ScopeStrategy, "ict-core")
	assert.False(t, armed)
	assert.Empty(t, reasons)
}

func TestArmed_ListsOnlyCurrentlyArmedScopes(t *testing.T) {
	sw := New(testConfig())
	now := time.Now()

	sw.Evaluate(now, ScopeSymbol, "EURUSD", Metrics{ConsecutiveLosses: 3})
	sw.Evaluate(now, ScopeSymbol, "GBPUSD", Metrics{ConsecutiveLosses: 0})

	records := sw.Armed()
	require.Len(t, records, 1)
	assert.Equal(t, "symbol:EURUSD", records[0].Key)
}

func TestOnStateChange_FiresOnArmAndDisarm(t *testing.T) {
	var events []Record
	cfg := testConfig()
	cfg.OnStateChange = func(r Record) { events = append(events, r) }
	sw := New(cfg)
	now := time.Now()

	sw.Evaluate(now, ScopeGlobal, "", Metrics{ConsecutiveLosses: 3})
	sw.Reset(ScopeGlobal, "", now.Add(time.Second))

	require.Len(t, events, 2)
	assert.True(t, events[0].Armed)
	assert.False(t, events[1].Armed)
}

func TestKey_GlobalScopeIgnoresID(t *testing.T) {
	assert.Equal(t, "global", Key(ScopeGlobal, "whatever"))
	assert.Equal(t, "symbol:EURUSD", Key(ScopeSymbol, "EURUSD"))
	assert.Equal(t, "strategy:ict-core", Key(ScopeStrategy, "ict-core"))
}
