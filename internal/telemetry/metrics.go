// Package telemetry exposes Prometheus metrics for the engine's pipeline
// stages and an HTTP server for /metrics, /healthz, /readyz.
//
// Grounded on chidi150c-coinbase's metrics.go: package-level CounterVec/
// GaugeVec declarations registered in init(), named "<prefix>_<noun>_total"
// with small label sets, plus thin Record*/Set* helper functions.
// Generalized from a single-strategy crypto bot's order/decision/PnL
// metrics to the engine's full pipeline (signals, filter decisions by
// reason, trades, exposure, kill switch, news guard, order flow).
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	signalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_signals_generated_total",
			Help: "Raw signals produced by the SMC generator, by symbol and direction",
		},
		[]string{"symbol", "direction"},
	)

	signalsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_signals_rejected_total",
			Help: "Signal generator rejections, by symbol and reason",
		},
		[]string{"symbol", "reason"},
	)

	filterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_filter_decisions_total",
			Help: "Execution Filter decisions, by symbol and action (TRADE|SKIP)",
		},
		[]string{"symbol", "action"},
	)

	filterSkipReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_filter_skip_reasons_total",
			Help: "Execution Filter SKIP reasons, by symbol and gate reason",
		},
		[]string{"symbol", "reason"},
	)

	tradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_trades_opened_total",
			Help: "Trades opened via the broker bridge, by symbol and direction",
		},
		[]string{"symbol", "direction"},
	)

	tradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_trades_closed_total",
			Help: "Trades closed, by symbol and result (win|loss|breakeven)",
		},
		[]string{"symbol", "result"},
	)

	exitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_exit_reasons_total",
			Help: "Trade exits, by symbol and reason",
		},
		[]string{"symbol", "reason"},
	)

	exposureConcurrentTrades = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ict_exposure_concurrent_trades",
			Help: "Currently open trades, by symbol",
		},
		[]string{"symbol"},
	)

	exposureEstimatedRisk = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ict_exposure_estimated_risk",
			Help: "Currently estimated open risk, by symbol",
		},
		[]string{"symbol"},
	)

	killSwitchArmed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ict_kill_switch_armed",
			Help: "1 when the kill switch is armed for scope, 0 otherwise",
		},
		[]string{"scope"},
	)

	newsGuardBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_newsguard_blocks_total",
			Help: "Trades blocked by the news-guardrail, by symbol",
		},
		[]string{"symbol"},
	)

	riskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_risk_rejections_total",
			Help: "Risk Service canTakeNewTrade rejections, by symbol and reason",
		},
		[]string{"symbol", "reason"},
	)

	orderFlowSnapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_orderflow_snapshots_total",
			Help: "Order-flow snapshot refreshes, by symbol",
		},
		[]string{"symbol"},
	)

	brokerAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ict_broker_api_errors_total",
			Help: "Broker bridge call failures, by endpoint",
		},
		[]string{"endpoint"},
	)

	callbackPanicsMetric = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ict_callback_panics_total",
			Help: "Recovered panics from async callbacks",
		},
	)
)

func init() {
	prometheus.MustRegister(
		signalsGenerated,
		signalsRejected,
		filterDecisions,
		filterSkipReasons,
		tradesOpened,
		tradesClosed,
		exitReasons,
		exposureConcurrentTrades,
		exposureEstimatedRisk,
		killSwitchArmed,
		newsGuardBlocks,
		riskRejections,
		orderFlowSnapshots,
		brokerAPIErrors,
		callbackPanicsMetric,
	)
}

func RecordSignalGenerated(symbol, direction string) {
	signalsGenerated.WithLabelValues(symbol, direction).Inc()
}

func RecordSignalRejected(symbol, reason string) {
	signalsRejected.WithLabelValues(symbol, reason).Inc()
}

func RecordFilterDecision(symbol, action string) {
	filterDecisions.WithLabelValues(symbol, action).Inc()
}

func RecordFilterSkipReason(symbol, reason string) {
	filterSkipReasons.WithLabelValues(symbol, reason).Inc()
}

func RecordTradeOpened(symbol, direction string) {
	tradesOpened.WithLabelValues(symbol, direction).Inc()
}

func RecordTradeClosed(symbol, result string) {
	tradesClosed.WithLabelValues(symbol, result).Inc()
}

func RecordExit(symbol, reason string) {
	exitReasons.WithLabelValues(symbol, reason).Inc()
}

func SetExposureConcurrentTrades(symbol string, count int) {
	exposureConcurrentTrades.WithLabelValues(symbol).Set(float64(count))
}

func SetExposureEstimatedRisk(symbol string, risk float64) {
	exposureEstimatedRisk.WithLabelValues(symbol).Set(risk)
}

func SetKillSwitchArmed(scope string, armed bool) {
	v := 0.0
	if armed {
		v = 1.0
	}
	killSwitchArmed.WithLabelValues(scope).Set(v)
}

func RecordNewsGuardBlock(symbol string) {
	newsGuardBlocks.WithLabelValues(symbol).Inc()
}

func RecordRiskRejection(symbol, reason string) {
	riskRejections.WithLabelValues(symbol, reason).Inc()
}

func RecordOrderFlowSnapshot(symbol string) {
	orderFlowSnapshots.WithLabelValues(symbol).Inc()
}

func RecordBrokerAPIError(endpoint string) {
	brokerAPIErrors.WithLabelValues(endpoint).Inc()
}

func RecordCallbackPanic() {
	callbackPanicsMetric.Inc()
}

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	srv        *http.Server
	readyState atomic.Bool
}

// NewServer creates a telemetry server bound to addr. A blank addr
// disables the server; Start/Shutdown become no-ops.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}

	server := &Server{}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if server.readyState.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	server.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return server
}

// Start begins serving metrics and health endpoints in a separate goroutine.
func (s *Server) Start() error {
	if s == nil || s.srv == nil {
		return nil
	}
	go func() {
		_ = s.srv.ListenAndServe()
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// SetReady updates the readiness state exposed on /readyz.
func (s *Server) SetReady(ready bool) {
	if s == nil {
		return
	}
	s.readyState.Store(ready)
}
