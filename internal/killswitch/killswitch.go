// Package killswitch implements the scoped {global | per-symbol |
// per-strategy} kill switch of spec.md §4.9: once armed for a scope,
// every pipeline evaluation for that scope short-circuits to SKIP until
// the next day/week boundary auto-disarms it or an operator resets it.
//
// Grounded on the teacher's internal/circuitbreaker: an explicit State
// enum, an OnStateChange hook, mutex-guarded transitions — generalized
// from two states (closed/open) keyed by a single breaker name to N
// independently-armed scopes keyed by string, each carrying the
// threshold reasons that tripped it.
package killswitch

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/logger"
)

// State mirrors the teacher's circuitbreaker.State shape for a scope.
type State int

const (
	StateDisarmed State = iota
	StateArmed
)

func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "disarmed"
}

// Scope classifies what a kill-switch key governs.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeSymbol   Scope = "symbol"
	ScopeStrategy Scope = "strategy"
)

// Key builds the map key used internally and in Record/GET /kill-switch.
func Key(scope Scope, id string) string {
	if scope == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(scope) + ":" + id
}

// Thresholds bounds one scope's kill-switch trip conditions.
type Thresholds struct {
	MaxDailyLossPercent  decimal.Decimal // realized daily loss as % of starting equity
	MaxWeeklyLossPercent decimal.Decimal
	MaxConsecutiveLosses int
	MaxTradesPerDay      int
	MaxTradesPerWeek     int
	MaxSpreadPips        decimal.Decimal
	MaxExposureRisk      decimal.Decimal
}

// Metrics is the live state the caller supplies for one evaluation.
type Metrics struct {
	DailyLossPercent     decimal.Decimal // positive magnitude of realized loss
	WeeklyLossPercent    decimal.Decimal
	ConsecutiveLosses    int
	TradesToday          int
	TradesThisWeek       int
	SpreadPips           decimal.Decimal
	EstimatedExposureRisk decimal.Decimal
}

// Record is one arm/disarm event, suitable for persistence by a
// decision-log or event-bus subscriber.
type Record struct {
	Scope     Scope
	ID        string
	Key       string
	Armed     bool
	Reasons   []string
	Timestamp time.Time
}

// Config configures global default thresholds, per-symbol overrides and
// the auto-disarm boundary behavior.
type Config struct {
	Global                 Thresholds
	PerSymbol              map[string]Thresholds
	AutoDisarmDayBoundary  bool
	AutoDisarmWeekBoundary bool
	Location               *time.Location // engine timezone for day/week boundaries; nil means UTC
	OnStateChange          func(Record)
}

// DefaultConfig gives conservative thresholds pending operator override.
func DefaultConfig() Config {
	return Config{
		Global: Thresholds{
			MaxDailyLossPercent:  decimal.NewFromInt(5),
			MaxWeeklyLossPercent: decimal.NewFromInt(10),
			MaxConsecutiveLosses: 5,
			MaxTradesPerDay:      20,
			MaxTradesPerWeek:     80,
			MaxSpreadPips:        decimal.NewFromInt(10),
			MaxExposureRisk:      decimal.NewFromInt(1000),
		},
		AutoDisarmDayBoundary: true,
		Location:              time.UTC,
	}
}

type scopeState struct {
	armed   bool
	reasons []string
	armedAt time.Time
}

// Switch tracks armed/disarmed state independently per scope key.
type Switch struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*scopeState
	log    *logger.Logger
}

// New creates a Switch from cfg.
func New(cfg Config) *Switch {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Switch{
		cfg:    cfg,
		states: make(map[string]*scopeState),
		log:    logger.Component("killswitch"),
	}
}

// thresholdsFor resolves the Thresholds to use for a symbol-scoped
// evaluation, falling back to the global defaults.
func (s *Switch) thresholdsFor(scope Scope, id string) Thresholds {
	if scope == ScopeSymbol {
		if t, ok := s.cfg.PerSymbol[id]; ok {
			return t
		}
	}
	return s.cfg.Global
}

// Evaluate checks whether scope/id should be (or remain) armed at now.
// If the scope is already armed, it only checks for an auto-disarm
// boundary crossing — trip thresholds are not re-evaluated against an
// already-armed scope, since arming persists until disarm regardless of
// metrics recovering (spec.md §4.9).
func (s *Switch) Evaluate(now time.Time, scope Scope, id string, m Metrics) (armed bool, reasons []string) {
	key := Key(scope, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if ok && st.armed {
		if s.crossedBoundary(st.armedAt, now) {
			s.setArmed(key, scope, id, false, nil, now)
			return false, nil
		}
		return true, st.reasons
	}

	th := s.thresholdsFor(scope, id)
	var trip []string
	if th.MaxDailyLossPercent.IsPositive() && m.DailyLossPercent.GreaterThanOrEqual(th.MaxDailyLossPercent) {
		trip = append(trip, "realized daily loss exceeds threshold")
	}
	if th.MaxWeeklyLossPercent.IsPositive() && m.WeeklyLossPercent.GreaterThanOrEqual(th.MaxWeeklyLossPercent) {
		trip = append(trip, "realized weekly loss exceeds threshold")
	}
	if th.MaxConsecutiveLosses > 0 && m.ConsecutiveLosses >= th.MaxConsecutiveLosses {
		trip = append(trip, "consecutive losing trades exceed threshold")
	}
	if th.MaxTradesPerDay > 0 && m.TradesToday >= th.MaxTradesPerDay {
		trip = append(trip, "trades per day exceed threshold")
	}
	if th.MaxTradesPerWeek > 0 && m.TradesThisWeek >= th.MaxTradesPerWeek {
		trip = append(trip, "trades per week exceed threshold")
	}
	if th.MaxSpreadPips.IsPositive() && m.SpreadPips.GreaterThanOrEqual(th.MaxSpreadPips) {
		trip = append(trip, "spread exceeds threshold")
	}
	if th.MaxExposureRisk.IsPositive() && m.EstimatedExposureRisk.GreaterThanOrEqual(th.MaxExposureRisk) {
		trip = append(trip, "combined estimated exposure risk exceeds threshold")
	}

	if len(trip) == 0 {
		return false, nil
	}

	s.setArmed(key, scope, id, true, trip, now)
	return true, trip
}

// crossedBoundary reports whether now falls on or after the next day
// (or week) boundary following armedAt, per the configured policy.
func (s *Switch) crossedBoundary(armedAt, now time.Time) bool {
	loc := s.cfg.Location
	armedLocal := armedAt.In(loc)
	nowLocal := now.In(loc)

	if s.cfg.AutoDisarmWeekBoundary {
		armedWeekday := int(armedLocal.Weekday())
		daysUntilBoundary := (7 - armedWeekday) % 7
		if daysUntilBoundary == 0 {
			daysUntilBoundary = 7
		}
		boundary := time.Date(armedLocal.Year(), armedLocal.Month(), armedLocal.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, daysUntilBoundary)
		return !nowLocal.Before(boundary)
	}

	if s.cfg.AutoDisarmDayBoundary {
		boundary := time.Date(armedLocal.Year(), armedLocal.Month(), armedLocal.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		return !nowLocal.Before(boundary)
	}

	return false
}

// IsArmed reports the current state of scope/id without re-evaluating
// thresholds.
func (s *Switch) IsArmed(scope Scope, id string) (bool, []string) {
	key := Key(scope, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok || !st.armed {
		return false, nil
	}
	return true, st.reasons
}

// Armed returns a Record for every currently armed scope, for the
// GET /kill-switch status endpoint.
func (s *Switch) Armed() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for key, st := range s.states {
		if !st.armed {
			continue
		}
		rec := Record{Key: key, Armed: true, Reasons: st.reasons, Timestamp: st.armedAt}
		if scope, id, ok := strings.Cut(key, ":"); ok {
			rec.Scope, rec.ID = Scope(scope), id
		} else {
			rec.Scope = Scope(key)
		}
		out = append(out, rec)
	}
	return out
}

// Reset disarms scope/id manually, e.g. from POST /kill-switch/reset.
func (s *Switch) Reset(scope Scope, id string, now time.Time) {
	key := Key(scope, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setArmed(key, scope, id, false, nil, now)
}

// setArmed must be called with s.mu held.
func (s *Switch) setArmed(key string, scope Scope, id string, armed bool, reasons []string, at time.Time) {
	st, ok := s.states[key]
	if !ok {
		st = &scopeState{}
		s.states[key] = st
	}
	if st.armed == armed {
		return
	}
	st.armed = armed
	st.reasons = reasons
	st.armedAt = at

	if armed {
		s.log.Warn("kill switch armed", "scope", scope, "id", id, "reasons", reasons)
	} else {
		s.log.Info("kill switch disarmed", "scope", scope, "id", id)
	}

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(Record{Scope: scope, ID: id, Key: key, Armed: armed, Reasons: reasons, Timestamp: at})
	}
}
