package decisionlog

import (
	"context"
	"sort"
	"sync"
)

// Store is the persistence boundary for decision log rows, implemented
// by both PostgresStore and MemoryStore.
type Store interface {
	Save(ctx context.Context, row Row) error
	Query(ctx context.Context, f Filter) ([]Row, error)
	DailyMetrics(ctx context.Context, date string) (DailyMetrics, error)
}

// MemoryStore is a bounded, in-memory ring of rows: the fallback Store
// for deployments without a configured Postgres DSN, and the Store used
// throughout this repo's tests.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	rows     []Row
}

// NewMemoryStore creates a MemoryStore holding at most capacity rows,
// discarding the oldest once full. capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Save appends row, evicting the oldest entry if at capacity. A row
// with the same ID as an existing one replaces it in place, matching
// the Postgres store's ON CONFLICT (id) DO UPDATE semantics.
func (m *MemoryStore) Save(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.rows {
		if existing.ID == row.ID {
			m.rows[i] = row
			return nil
		}
	}

	m.rows = append(m.rows, row)
	if m.capacity > 0 && len(m.rows) > m.capacity {
		m.rows = m.rows[len(m.rows)-m.capacity:]
	}
	return nil
}

// Query returns rows matching f, newest first, honoring Limit/Offset.
func (m *MemoryStore) Query(ctx context.Context, f Filter) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]Row, 0, len(m.rows))
	for _, row := range m.rows {
		if matches(row, f) {
			matched = append(matched, row)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// DailyMetrics aggregates rows whose Timestamp falls on date
// (YYYY-MM-DD, in the row's own timezone offset) into counters and the
// top skip reasons by frequency.
func (m *MemoryStore) DailyMetrics(ctx context.Context, date string) (DailyMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := DailyMetrics{Date: date}
	reasonCounts := make(map[string]int)

	for _, row := range m.rows {
		if row.Timestamp.Format("2006-01-02") != date {
			continue
		}
		out.TotalEvaluations++
		if row.FilterDecision == DecisionTrade {
			out.TradeCount++
			continue
		}
		out.SkipCount++
		for _, reason := range row.FilterReasons {
			reasonCounts[reason]++
		}
		if row.GuardrailReason != "" {
			reasonCounts[row.GuardrailReason]++
		}
		if row.SignalReason != "" {
			reasonCounts[row.SignalReason]++
		}
		if row.RiskReason != "" {
			reasonCounts[row.RiskReason]++
		}
		for _, reason := range row.KillSwitchReasons {
			reasonCounts[reason]++
		}
	}

	out.TopSkipReasons = topReasons(reasonCounts)
	return out, nil
}

func matches(row Row, f Filter) bool {
	if f.Symbol != "" && row.Symbol != f.Symbol {
		return false
	}
	if f.Strategy != "" && row.Strategy != f.Strategy {
		return false
	}
	if f.Decision != "" && row.FilterDecision != f.Decision {
		return false
	}
	if !f.From.IsZero() && row.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && row.Timestamp.After(f.To) {
		return false
	}
	return true
}

func topReasons(counts map[string]int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}
