package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/decisionlog"
	"github.com/ictrader/engine/internal/events"
	"github.com/ictrader/engine/internal/exposure"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/orderevent"
	"github.com/ictrader/engine/internal/pipvalue"
)

type fakeBroker struct {
	positions []broker.OpenPosition
}

func (f *fakeBroker) GetPrice(ctx context.Context, symbol string) (broker.Price, error) {
	return broker.Price{}, nil
}
func (f *fakeBroker) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	return f.positions, nil
}
func (f *fakeBroker) OpenTrade(ctx context.Context, req broker.OpenTradeRequest) (broker.OpenTradeResult, error) {
	return broker.OpenTradeResult{}, nil
}
func (f *fakeBroker) CloseTrade(ctx context.Context, ticket string) (broker.CloseTradeResult, error) {
	return broker.CloseTradeResult{}, nil
}
func (f *fakeBroker) ModifyTrade(ctx context.Context, ticket string, sl, tp decimal.Decimal) (broker.ModifyTradeResult, error) {
	return broker.ModifyTradeResult{}, nil
}
func (f *fakeBroker) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]broker.Candle, error) {
	return nil, nil
}

var _ broker.Broker = (*fakeBroker)(nil)

func pipTable(t *testing.T) *pipvalue.Table {
	t.Helper()
	return pipvalue.DefaultTable()
}

func newTestServer(t *testing.T) (*Server, *fakeBroker, *decisionlog.MemoryStore, *killswitch.Switch) {
	t.Helper()
	fb := &fakeBroker{}
	tracker := exposure.NewTracker(fb, pipTable(t), time.Hour)
	store := decisionlog.NewMemoryStore(0)
	ks := killswitch.New(killswitch.DefaultConfig())
	bus := events.NewBus()
	ingestor := orderevent.NewIngestor(bus, noopExitTracker{})

	fixedNow := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := NewServer("127.0.0.1:0", Deps{
		Exposure:   tracker,
		Decisions:  store,
		KillSwitch: ks,
		Ingestor:   ingestor,
		Now:        func() time.Time { return fixedNow },
	})
	return srv, fb, store, ks
}

type noopExitTracker struct{}

func (noopExitTracker) Forget(ticket string) {}

func (s *Server) testMux() http.Handler {
	return s.srv.Handler
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	srv.testMux().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestHandleStatusExposure_ReturnsEmptySnapshotInitially(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status/exposure", nil)

	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp exposureResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Symbols)
	assert.Equal(t, 0, resp.Global.TotalOpenTrades)
}

func TestHandleAdminDecisions_FiltersBySymbolAndDecision(t *testing.T) {
	srv, _, store, _ := newTestServer(t)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	tradeRow := decisionlog.NewRow(now)
	tradeRow.Symbol = "EURUSD"
	tradeRow.Strategy = "silver_bullet"
	tradeRow.FilterDecision = decisionlog.DecisionTrade
	require.NoError(t, store.Save(context.Background(), tradeRow))

	skipRow := decisionlog.NewRow(now)
	skipRow.Symbol = "GBPUSD"
	skipRow.FilterDecision = decisionlog.DecisionSkip
	require.NoError(t, store.Save(context.Background(), skipRow))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/decisions?symbol=EURUSD&decision=TRADE", nil)
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rows []decisionlog.Row
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "EURUSD", rows[0].Symbol)
}

func TestHandleAdminDecisions_HonorsLimitAndOffset(t *testing.T) {
	srv, _, store, _ := newTestServer(t)
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := decisionlog.NewRow(base.Add(time.Duration(i) * time.Minute))
		row.Symbol = "EURUSD"
		require.NoError(t, store.Save(context.Background(), row))
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/decisions?limit=2&offset=1", nil)
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rows []decisionlog.Row
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)
}

func TestHandleAdminDecisions_MalformedLimitFallsBackToUnbounded(t *testing.T) {
	srv, _, store, _ := newTestServer(t)
	row := decisionlog.NewRow(time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	row.Symbol = "EURUSD"
	require.NoError(t, store.Save(context.Background(), row))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/decisions?limit=not-a-number", nil)
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var rows []decisionlog.Row
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}

func TestHandleAdminMetricsDaily_DefaultsToServerNow(t *testing.T) {
	srv, _, store, _ := newTestServer(t)
	row := decisionlog.NewRow(time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC))
	row.FilterDecision = decisionlog.DecisionTrade
	require.NoError(t, store.Save(context.Background(), row))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/metrics/daily", nil)
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var metrics decisionlog.DailyMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &metrics))
	assert.Equal(t, "2026-07-31", metrics.Date)
	assert.Equal(t, 1, metrics.TradeCount)
}

func TestHandleOrderEvents_AcksValidPayloadWith200(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	body := `{"eventType":"opened","ticket":"T1","symbol":"EURUSD","direction":"BUY","volume":"0.1"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/order-events", strings.NewReader(body))
	srv.testMux().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleOrderEvents_MalformedBodyReturns400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/order-events", strings.NewReader("{not json"))
	srv.testMux().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleOrderEvents_DuplicateDeliveryStillAcksWith200(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	body := `{"eventType":"closed","ticket":"T2","symbol":"EURUSD"}`

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/order-events", strings.NewReader(body))
		srv.testMux().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestHandleKillSwitchStatus_ReportsArmedScopes(t *testing.T) {
	srv, _, _, ks := newTestServer(t)
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	ks.Evaluate(now, killswitch.ScopeGlobal, "", killswitch.Metrics{ConsecutiveLosses: 999})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/kill-switch", nil)
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var records []killSwitchRecordView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.True(t, records[0].Armed)
	assert.Equal(t, "global", records[0].Scope)
}

func TestHandleKillSwitchReset_DisarmsNamedScope(t *testing.T) {
	srv, _, _, ks := newTestServer(t)
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	ks.Evaluate(now, killswitch.ScopeGlobal, "", killswitch.Metrics{ConsecutiveLosses: 999})
	armed, _ := ks.IsArmed(killswitch.ScopeGlobal, "")
	require.True(t, armed)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/kill-switch/reset", strings.NewReader(`{"scope":"global","reason":"manual override"}`))
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	armed, _ = ks.IsArmed(killswitch.ScopeGlobal, "")
	assert.False(t, armed)
}

func TestHandleKillSwitchReset_EmptyBodyDefaultsToGlobalScope(t *testing.T) {
	srv, _, _, ks := newTestServer(t)
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	ks.Evaluate(now, killswitch.ScopeGlobal, "", killswitch.Metrics{ConsecutiveLosses: 999})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/kill-switch/reset", nil)
	req.ContentLength = 0
	srv.testMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	armed, _ := ks.IsArmed(killswitch.ScopeGlobal, "")
	assert.False(t, armed)
}
