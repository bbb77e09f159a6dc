package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists rows to a `decision_log` table via pgx/v5's
// native pool interface. Nested fields (FilterReasons,
// KillSwitchReasons, TradeRequest, ExecutionResult) are stored as JSONB,
// matching spec.md §4.12's "schema is additive; unknown fields are
// ignored on read".
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Save upserts row by ID.
func (s *PostgresStore) Save(ctx context.Context, row Row) error {
	filterReasonsJSON, err := json.Marshal(row.FilterReasons)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal filter reasons: %w", err)
	}
	killSwitchReasonsJSON, err := json.Marshal(row.KillSwitchReasons)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal kill-switch reasons: %w", err)
	}

	var tradeRequestJSON, executionResultJSON []byte
	if row.TradeRequest != nil {
		if tradeRequestJSON, err = json.Marshal(row.TradeRequest); err != nil {
			return fmt.Errorf("decisionlog: marshal trade request: %w", err)
		}
	}
	if row.ExecutionResult != nil {
		if executionResultJSON, err = json.Marshal(row.ExecutionResult); err != nil {
			return fmt.Errorf("decisionlog: marshal execution result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO decision_log (
	id, ts, symbol, strategy, guardrail_mode, guardrail_reason, signal_reason,
	filter_decision, filter_reasons, risk_reason,
	kill_switch_active, kill_switch_reasons, trade_request, execution_result
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10,
	$11, $12, $13, $14
)
ON CONFLICT (id) DO UPDATE SET
	ts = EXCLUDED.ts,
	symbol = EXCLUDED.symbol,
	strategy = EXCLUDED.strategy,
	guardrail_mode = EXCLUDED.guardrail_mode,
	guardrail_reason = EXCLUDED.guardrail_reason,
	signal_reason = EXCLUDED.signal_reason,
	filter_decision = EXCLUDED.filter_decision,
	filter_reasons = EXCLUDED.filter_reasons,
	risk_reason = EXCLUDED.risk_reason,
	kill_switch_active = EXCLUDED.kill_switch_active,
	kill_switch_reasons = EXCLUDED.kill_switch_reasons,
	trade_request = EXCLUDED.trade_request,
	execution_result = EXCLUDED.execution_result
`,
		row.ID, row.Timestamp, row.Symbol, row.Strategy, row.GuardrailMode, row.GuardrailReason, row.SignalReason,
		string(row.FilterDecision), filterReasonsJSON, row.RiskReason,
		row.KillSwitchActive, killSwitchReasonsJSON, nullBytes(tradeRequestJSON), nullBytes(executionResultJSON),
	)
	if err != nil {
		return fmt.Errorf("decisionlog: save row %s: %w", row.ID, err)
	}
	return nil
}

// Query returns rows matching f, newest first.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Row, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, ts, symbol, strategy, guardrail_mode, guardrail_reason, signal_reason,
       filter_decision, filter_reasons, risk_reason,
       kill_switch_active, kill_switch_reasons, trade_request, execution_result
FROM decision_log
WHERE ($1 = '' OR symbol = $1)
  AND ($2 = '' OR strategy = $2)
  AND ($3 = '' OR filter_decision = $3)
  AND ($4::timestamptz IS NULL OR ts >= $4)
  AND ($5::timestamptz IS NULL OR ts <= $5)
ORDER BY ts DESC
LIMIT $6 OFFSET $7
`, f.Symbol, f.Strategy, string(f.Decision), nullTime(f.From), nullTime(f.To), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("decisionlog: scan row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DailyMetrics aggregates one date's rows in the database.
func (s *PostgresStore) DailyMetrics(ctx context.Context, date string) (DailyMetrics, error) {
	out := DailyMetrics{Date: date}

	err := s.pool.QueryRow(ctx, `
SELECT count(*) FILTER (WHERE true),
       count(*) FILTER (WHERE filter_decision = 'TRADE'),
       count(*) FILTER (WHERE filter_decision = 'SKIP')
FROM decision_log
WHERE ts::date = $1::date
`, date).Scan(&out.TotalEvaluations, &out.TradeCount, &out.SkipCount)
	if err != nil {
		return DailyMetrics{}, fmt.Errorf("decisionlog: daily metrics counters: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT reason, count(*) AS n
FROM decision_log, jsonb_array_elements_text(filter_reasons) AS reason
WHERE ts::date = $1::date
GROUP BY reason
ORDER BY n DESC, reason ASC
`, date)
	if err != nil {
		return DailyMetrics{}, fmt.Errorf("decisionlog: daily metrics reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return DailyMetrics{}, fmt.Errorf("decisionlog: scan reason count: %w", err)
		}
		out.TopSkipReasons = append(out.TopSkipReasons, rc)
	}
	return out, rows.Err()
}

func scanRow(rows pgx.Rows) (Row, error) {
	var row Row
	var filterReasonsJSON, killSwitchReasonsJSON, tradeRequestJSON, executionResultJSON []byte
	var decision string

	err := rows.Scan(
		&row.ID, &row.Timestamp, &row.Symbol, &row.Strategy, &row.GuardrailMode, &row.GuardrailReason, &row.SignalReason,
		&decision, &filterReasonsJSON, &row.RiskReason,
		&row.KillSwitchActive, &killSwitchReasonsJSON, &tradeRequestJSON, &executionResultJSON,
	)
	if err != nil {
		return Row{}, err
	}
	row.FilterDecision = Decision(decision)

	if len(filterReasonsJSON) > 0 {
		if err := json.Unmarshal(filterReasonsJSON, &row.FilterReasons); err != nil {
			return Row{}, fmt.Errorf("decode filter reasons: %w", err)
		}
	}
	if len(killSwitchReasonsJSON) > 0 {
		if err := json.Unmarshal(killSwitchReasonsJSON, &row.KillSwitchReasons); err != nil {
			return Row{}, fmt.Errorf("decode kill-switch reasons: %w", err)
		}
	}
	if len(tradeRequestJSON) > 0 {
		row.TradeRequest = &TradeRequest{}
		if err := json.Unmarshal(tradeRequestJSON, row.TradeRequest); err != nil {
			return Row{}, fmt.Errorf("decode trade request: %w", err)
		}
	}
	if len(executionResultJSON) > 0 {
		row.ExecutionResult = &ExecutionResult{}
		if err := json.Unmarshal(executionResultJSON, row.ExecutionResult); err != nil {
			return Row{}, fmt.Errorf("decode execution result: %w", err)
		}
	}
	return row, nil
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
