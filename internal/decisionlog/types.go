// Package decisionlog persists one row per tick-loop evaluation, per
// spec.md §4.12: the entire outcome of a symbol/strategy decision,
// including every reasons array and the nested trade request/execution
// result, so "why we did not trade" always has one source of truth
// (spec.md §8).
//
// Grounded on Funky1981-jax-trading-assistant/libs/utcp/storage_postgres.go's
// database/sql + ON CONFLICT upsert shape, adapted to pgx/v5's native
// pool interface rather than database/sql, plus an in-memory ring store
// (mirroring internal/killswitch's mutex-guarded map idiom) for tests
// and DSN-less deployments. Logger errors never cancel a decision: Save
// is called after the tick loop has already acted, and its error is
// logged, not propagated (spec.md §4.12 "fail-safe").
package decisionlog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
)

// Decision is the filter/orchestrator's final TRADE or SKIP verdict for
// one evaluation, mirrored here so the row is self-contained.
type Decision string

const (
	DecisionTrade Decision = "TRADE"
	DecisionSkip  Decision = "SKIP"
)

// TradeRequest is the nested trade-open attempt, if the evaluation got
// far enough to attempt one.
type TradeRequest struct {
	Symbol     string
	Direction  broker.Direction
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// ExecutionResult is the nested broker response to a TradeRequest.
type ExecutionResult struct {
	Success bool
	Ticket  string
	Error   string
}

// Row is the Decision Log Row from spec.md §3: the full outcome of one
// evaluation.
type Row struct {
	ID               string
	Timestamp        time.Time
	Symbol           string
	Strategy         string
	GuardrailMode    string
	GuardrailReason  string
	SignalReason     string
	FilterDecision   Decision
	FilterReasons    []string
	RiskReason       string
	KillSwitchActive bool
	KillSwitchReasons []string
	TradeRequest     *TradeRequest
	ExecutionResult  *ExecutionResult
}

// NewRow stamps a Row with a fresh ID and the given timestamp, leaving
// every other field at its zero value for the caller to fill in.
func NewRow(now time.Time) Row {
	return Row{ID: uuid.NewString(), Timestamp: now}
}

// DailyMetrics aggregates one date's decision log into counters and the
// most frequent skip reasons, backing GET /admin/metrics/daily.
type DailyMetrics struct {
	Date            string
	TotalEvaluations int
	TradeCount      int
	SkipCount       int
	TopSkipReasons  []ReasonCount
}

// ReasonCount pairs a reason string with its occurrence count, ordered
// descending by Count.
type ReasonCount struct {
	Reason string
	Count  int
}

// Filter narrows a paginated decision-log query, per spec.md §6's
// GET /admin/decisions query parameters.
type Filter struct {
	Symbol   string
	Strategy string
	Decision Decision // empty means "any"
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
