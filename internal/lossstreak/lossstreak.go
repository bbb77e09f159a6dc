// Package lossstreak tracks, per symbol, the current run of consecutive
// losing trades and arms a timed pause once the run reaches a
// configured threshold (spec.md §4.11). It subscribes to
// internal/events.Bus's TradeClosed topic rather than being called
// directly by the order-event ingestor, so the Execution Filter's
// gateLossStreak reads this package's query API and nothing upstream of
// it — the one-directional event bus redesign in spec.md §9.
//
// New, small package; shape grounded on internal/killswitch.Switch's
// mutex-guarded per-key state map.
package lossstreak

import (
	"context"
	"sync"
	"time"

	"github.com/ictrader/engine/internal/events"
	"github.com/ictrader/engine/internal/logger"
)

// Config bounds the pause threshold and duration.
type Config struct {
	Enabled           bool
	ConsecutiveLosses int
	PauseDuration     time.Duration
}

// DefaultConfig mirrors spec.md §6's lossStreak.* defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, ConsecutiveLosses: 3, PauseDuration: time.Hour}
}

type symbolState struct {
	consecutiveLosses int
	pausedUntil       time.Time
}

// Tracker maintains per-symbol loss-streak state.
type Tracker struct {
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	states map[string]*symbolState
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		log:    logger.Component("lossstreak"),
		states: make(map[string]*symbolState),
	}
}

// Run subscribes to bus's TradeClosed topic until ctx is canceled,
// updating per-symbol state as trades close.
func (t *Tracker) Run(ctx context.Context, bus *events.Bus) {
	ch, unsub := bus.SubscribeTradeClosed("lossstreak", 32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			t.OnTradeClosed(ev)
		}
	}
}

// OnTradeClosed advances or resets the streak for ev.Symbol: a profit
// resets the counter, a loss increments it and arms a pause once the
// threshold is reached.
func (t *Tracker) OnTradeClosed(ev events.TradeClosed) {
	if !t.cfg.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[ev.Symbol]
	if !ok {
		st = &symbolState{}
		t.states[ev.Symbol] = st
	}

	if ev.Profit.IsPositive() {
		st.consecutiveLosses = 0
		return
	}
	if ev.Profit.IsNegative() {
		st.consecutiveLosses++
		if t.cfg.ConsecutiveLosses > 0 && st.consecutiveLosses >= t.cfg.ConsecutiveLosses {
			st.pausedUntil = ev.ClosedAt.Add(t.cfg.PauseDuration)
			t.log.Warn("loss streak pause armed", "symbol", ev.Symbol, "consecutive_losses", st.consecutiveLosses)
		}
	}
}

// IsPaused reports whether symbol is currently within an armed pause
// window at now.
func (t *Tracker) IsPaused(symbol string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[symbol]
	if !ok {
		return false
	}
	return now.Before(st.pausedUntil)
}

// ConsecutiveLosses reports the current streak length for symbol.
func (t *Tracker) ConsecutiveLosses(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[symbol]; ok {
		return st.consecutiveLosses
	}
	return 0
}
