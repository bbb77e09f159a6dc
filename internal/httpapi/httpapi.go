// Package httpapi is the core's status/admin surface (spec.md §6 "Core
// status (exposed)"): health, exposure snapshot, paginated Decision Log,
// daily metrics, the order-event webhook, and kill-switch status/reset.
// Prometheus exposition lives in internal/telemetry's own server; this
// package only serves the JSON admin endpoints.
//
// Grounded on the teacher's chidi150c-coinbase/main.go http.NewServeMux
// wiring idiom (a flat handler-per-route mux started in its own
// goroutine), generalized from one healthz handler to the full status
// surface using Go 1.22+ method+pattern mux routing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/decisionlog"
	"github.com/ictrader/engine/internal/exposure"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/orderevent"
)

// Deps bundles the collaborators the status surface reads from or
// writes to. All fields are required.
type Deps struct {
	Exposure   *exposure.Tracker
	Decisions  decisionlog.Store
	KillSwitch *killswitch.Switch
	Ingestor   *orderevent.Ingestor
	Now        func() time.Time // overridable for tests; defaults to time.Now
}

// Server serves the admin/status HTTP surface on its own listener,
// independent of internal/telemetry's Prometheus server.
type Server struct {
	deps Deps
	log  *logger.Logger
	srv  *http.Server
}

// NewServer builds a Server bound to addr, wiring every route spec.md
// §6 names.
func NewServer(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, log: logger.Component("httpapi")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status/exposure", s.handleStatusExposure)
	mux.HandleFunc("GET /admin/decisions", s.handleAdminDecisions)
	mux.HandleFunc("GET /admin/metrics/daily", s.handleAdminMetricsDaily)
	mux.HandleFunc("POST /order-events", s.handleOrderEvents)
	mux.HandleFunc("GET /kill-switch", s.handleKillSwitchStatus)
	mux.HandleFunc("POST /kill-switch/reset", s.handleKillSwitchReset)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves until the listener is closed; use with go s.Start().
func (s *Server) Start() error {
	s.log.Info("httpapi listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type exposureSymbolView struct {
	Symbol           string `json:"symbol"`
	TotalOpenTrades  int    `json:"totalOpenTrades"`
	EstimatedRisk    string `json:"estimatedRiskAmount"`
}

type exposureGlobalView struct {
	TotalOpenTrades       int       `json:"totalOpenTrades"`
	TotalEstimatedRisk    string    `json:"totalEstimatedRiskAmount"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

type exposureResponse struct {
	Symbols []exposureSymbolView `json:"symbols"`
	Global  exposureGlobalView   `json:"global"`
}

// handleStatusExposure serves spec.md §6's GET /status/exposure.
func (s *Server) handleStatusExposure(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Exposure.Current()
	resp := exposureResponse{Symbols: make([]exposureSymbolView, 0, len(snap.BySymbol))}
	for symbol, se := range snap.BySymbol {
		resp.Symbols = append(resp.Symbols, exposureSymbolView{
			Symbol: symbol, TotalOpenTrades: se.TotalCount, EstimatedRisk: se.EstimatedRisk.String(),
		})
	}
	resp.Global = exposureGlobalView{
		TotalOpenTrades:    snap.Global.TotalCount,
		TotalEstimatedRisk: snap.Global.EstimatedRisk.String(),
		LastUpdated:        snap.LastUpdated,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminDecisions serves spec.md §6's paginated
// GET /admin/decisions?symbol=&strategy=&decision=&from=&to=&limit=&offset=.
func (s *Server) handleAdminDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := decisionlog.Filter{
		Symbol:   q.Get("symbol"),
		Strategy: q.Get("strategy"),
		Decision: decisionlog.Decision(q.Get("decision")),
		Limit:    atoiOr(q.Get("limit"), 0),
		Offset:   atoiOr(q.Get("offset"), 0),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			f.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			f.To = t
		}
	}

	rows, err := s.deps.Decisions.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleAdminMetricsDaily serves spec.md §6's
// GET /admin/metrics/daily?date=YYYY-MM-DD.
func (s *Server) handleAdminMetricsDaily(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.deps.Now().Format("2006-01-02")
	}
	metrics, err := s.deps.Decisions.DailyMetrics(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// orderEventPayload mirrors spec.md §3's Order Event wire shape.
type orderEventPayload struct {
	EventType  orderevent.EventType `json:"eventType"`
	Ticket     string               `json:"ticket"`
	PositionID string               `json:"positionId"`
	Symbol     string               `json:"symbol"`
	Direction  broker.Direction     `json:"direction"`
	Volume     decimal.Decimal      `json:"volume"`
	EntryTime  time.Time            `json:"entryTime"`
	ExitTime   time.Time            `json:"exitTime"`
	EntryPrice decimal.Decimal      `json:"entryPrice"`
	ExitPrice  decimal.Decimal      `json:"exitPrice"`
	StopLoss   decimal.Decimal      `json:"sl"`
	TakeProfit decimal.Decimal      `json:"tp"`
	Commission decimal.Decimal      `json:"commission"`
	Swap       decimal.Decimal      `json:"swap"`
	Profit     decimal.Decimal      `json:"profit"`
	Reason     string               `json:"reason"`
	Raw        string               `json:"raw"`
}

// handleOrderEvents serves spec.md §6's lifecycle webhook. The core
// always acknowledges with 200, per spec.md §6 "the core always
// acknowledges with 200" — a malformed body is the one exception, since
// there is no event to ingest at all.
func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	var payload orderEventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev := orderevent.OrderEvent{
		EventType: payload.EventType, Ticket: payload.Ticket, PositionID: payload.PositionID,
		Symbol: payload.Symbol, Direction: payload.Direction, Volume: payload.Volume,
		EntryTime: payload.EntryTime, ExitTime: payload.ExitTime,
		EntryPrice: payload.EntryPrice, ExitPrice: payload.ExitPrice,
		StopLoss: payload.StopLoss, TakeProfit: payload.TakeProfit,
		Commission: payload.Commission, Swap: payload.Swap, Profit: payload.Profit,
		Reason: payload.Reason, Raw: payload.Raw,
	}
	if err := s.deps.Ingestor.Ingest(r.Context(), ev); err != nil {
		s.log.WithError(err).Warn("order event ingest failed", "ticket", ev.Ticket)
	}
	w.WriteHeader(http.StatusOK)
}

type killSwitchRecordView struct {
	Scope     string    `json:"scope"`
	ID        string    `json:"id"`
	Armed     bool      `json:"armed"`
	Reasons   []string  `json:"reasons"`
	Timestamp time.Time `json:"timestamp"`
}

// handleKillSwitchStatus serves spec.md §6's GET /kill-switch.
func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	records := s.deps.KillSwitch.Armed()
	out := make([]killSwitchRecordView, 0, len(records))
	for _, rec := range records {
		out = append(out, killSwitchRecordView{
			Scope: string(rec.Scope), ID: rec.ID, Armed: rec.Armed,
			Reasons: rec.Reasons, Timestamp: rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type killSwitchResetRequest struct {
	Scope  string `json:"scope"`
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// handleKillSwitchReset serves spec.md §6's POST /kill-switch/reset.
// scope defaults to "global" when omitted.
func (s *Server) handleKillSwitchReset(w http.ResponseWriter, r *http.Request) {
	var req killSwitchResetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	scope := killswitch.ScopeGlobal
	if req.Scope == string(killswitch.ScopeSymbol) {
		scope = killswitch.ScopeSymbol
	}
	s.deps.KillSwitch.Reset(scope, req.Symbol, s.deps.Now())
	s.log.Info("kill switch reset", "scope", scope, "symbol", req.Symbol, "reason", req.Reason)
	w.WriteHeader(http.StatusOK)
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
