// Package feed polls the broker adapter for the latest bid/ask of each
// configured symbol and turns successful polls into market.Tick values.
// Grounded on the ticker-driven poll loop in FOTONPHOTOS-PULSEINTEL's
// internal/analytics/mark_price_poller.go, adapted from a multi-exchange
// fan-out to a single-broker, per-symbol backoff loop (spec.md §4.1).
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/market"
)

// Config controls poll cadence and retry behavior.
type Config struct {
	Interval      time.Duration // steady-state poll interval per symbol
	MaxRetries    int           // attempts per cycle before giving up and skipping
	InitialBackoff time.Duration
	MaxBackoff    time.Duration
}

// DefaultConfig matches spec.md §4.1's suggested cadence: a 1-2s poll with
// a handful of retries before skipping the cycle.
func DefaultConfig() Config {
	return Config{
		Interval:       2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Poller runs one polling goroutine per symbol against a broker.Broker,
// pushing accepted ticks into a market.Builder. The feed never blocks
// evaluation: GetPrice failures are retried with backoff up to
// Config.MaxRetries, after which the cycle for that symbol is skipped and
// the last good tick remains cached in the Builder/Store.
type Poller struct {
	cfg     Config
	br      broker.Broker
	builder *market.Builder
	log     *logger.Logger

	mu       sync.RWMutex
	lastTick map[string]market.Tick
}

// NewPoller creates a Poller for the given symbols.
func NewPoller(cfg Config, br broker.Broker, builder *market.Builder) *Poller {
	return &Poller{
		cfg:      cfg,
		br:       br,
		builder:  builder,
		log:      logger.Component("feed"),
		lastTick: make(map[string]market.Tick),
	}
}

// Run starts one poll loop per symbol and blocks until ctx is canceled.
func (p *Poller) Run(ctx context.Context, symbols []string) {
	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			p.runSymbol(ctx, symbol)
		}(s)
	}
	wg.Wait()
}

func (p *Poller) runSymbol(ctx context.Context, symbol string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce(ctx, symbol)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, symbol)
		}
	}
}

// pollOnce fetches a single price with retry+backoff. On exhaustion it logs
// and returns, leaving the previously cached tick (if any) as the last good
// value — it does not synthesize a tick from stale data.
func (p *Poller) pollOnce(ctx context.Context, symbol string) {
	backoff := p.cfg.InitialBackoff

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		price, err := p.br.GetPrice(ctx, symbol)
		if err == nil {
			t := market.NewTick(symbol, price.Bid, price.Ask, price.Time)
			p.mu.Lock()
			p.lastTick[symbol] = t
			p.mu.Unlock()
			p.builder.OnTick(t)
			return
		}

		p.log.Warn("price poll failed", "symbol", symbol, "attempt", attempt, "err", err)
		if attempt == p.cfg.MaxRetries {
			p.log.Error("price poll exhausted retries, skipping cycle", "symbol", symbol)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
}

// LastTick returns the last successfully polled tick for symbol, if any.
func (p *Poller) LastTick(symbol string) (market.Tick, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastTick[symbol]
	return t, ok
}
