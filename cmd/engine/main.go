package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/broker"
	"github.com/ictrader/engine/internal/circuitbreaker"
	"github.com/ictrader/engine/internal/config"
	"github.com/ictrader/engine/internal/decisionlog"
	"github.com/ictrader/engine/internal/events"
	"github.com/ictrader/engine/internal/exit"
	"github.com/ictrader/engine/internal/exposure"
	"github.com/ictrader/engine/internal/feed"
	"github.com/ictrader/engine/internal/filter"
	"github.com/ictrader/engine/internal/httpapi"
	"github.com/ictrader/engine/internal/killswitch"
	"github.com/ictrader/engine/internal/lossstreak"
	"github.com/ictrader/engine/internal/market"
	"github.com/ictrader/engine/internal/newsguard"
	"github.com/ictrader/engine/internal/orchestrator"
	"github.com/ictrader/engine/internal/orderevent"
	"github.com/ictrader/engine/internal/orderflow"
	"github.com/ictrader/engine/internal/risk"
	"github.com/ictrader/engine/internal/smc"
	"github.com/ictrader/engine/internal/telemetry"
)

func main() {
	godotenv.Load()

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// components bundles every long-running goroutine/server the engine
// starts, so run() can wire them once and shut them down uniformly.
type components struct {
	cfg          *config.AppConfig
	broker       broker.Broker
	candles      *market.Store
	backfill     *market.Backfill
	poller       *feed.Poller
	orderFlow    *orderflow.Snapshotter
	lossStreak   *lossstreak.Tracker
	bus          *events.Bus
	exitEngine   *exit.Engine
	exitRunner   *exit.Runner
	exposureTrk  *exposure.Tracker
	orchestrator *orchestrator.Orchestrator
	httpServer   *httpapi.Server
	telemetry    *telemetry.Server
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	c, err := initialize(cfg)
	if err != nil {
		return err
	}

	seedCandleHistory(ctx, c.backfill, cfg.Symbols)

	go c.poller.Run(ctx, cfg.Symbols)
	go runOrderFlowLoop(ctx, c.orderFlow, cfg.Symbols, cfg.OrderFlow.PollIntervalSeconds)
	go c.lossStreak.Run(ctx, c.bus)
	go c.exposureTrk.Run(ctx)
	go c.exitRunner.Run(ctx)
	go c.orchestrator.Run(ctx)
	go func() {
		if err := c.httpServer.Start(); err != nil {
			log.Printf("httpapi server stopped: %v", err)
		}
	}()
	go func() {
		if err := c.telemetry.Start(); err != nil {
			log.Printf("telemetry server stopped: %v", err)
		}
	}()

	pnlUnsub := wirePnLTracking(c.bus, c.orchestrator, cfg)
	defer pnlUnsub()

	log.Println("engine started, press Ctrl+C to stop")
	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = c.httpServer.Shutdown(shutdownCtx)
	_ = c.telemetry.Shutdown(shutdownCtx)

	return nil
}

func initialize(cfg *config.AppConfig) (*components, error) {
	cbConfig := circuitbreaker.DefaultConfig()

	brokerClient := broker.NewHTTPClient(cfg.BrokerBaseURL, 10, 20, cbConfig)

	candleStore := market.NewStore(market.DefaultMaxCandles)
	builder := market.NewBuilder(candleStore)
	poller := feed.NewPoller(feed.DefaultConfig(), brokerClient, builder)
	backfiller := market.NewBackfill(brokerClient, candleStore)

	pips := cfg.PipTable

	var newsGuardClient *newsguard.Client
	if cfg.NewsGuardURL != "" {
		var opts []newsguard.Option
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			opts = append(opts, newsguard.WithRedisCache(rdb, 24*time.Hour))
		}
		newsGuardClient = newsguard.NewClient(cfg.NewsGuardURL, 5, 10, cbConfig, opts...)
	}

	riskCfg := risk.DefaultConfig()
	for symbol, pct := range cfg.SymbolRiskPct {
		riskCfg.SymbolRiskPercent[symbol] = pct
	}
	riskManager := risk.NewManager(riskCfg, pips)

	ksCfg := killswitch.DefaultConfig()
	ksCfg.Global.MaxConsecutiveLosses = cfg.KillSwitch.MaxConsecutiveLosses
	ksCfg.Global.MaxDailyLossPercent = cfg.KillSwitch.MaxDailyLossPercent
	killSwitch := killswitch.New(ksCfg)

	exitEngine := exit.NewEngine(exit.DefaultConfig())
	exitRunner := exit.NewRunner(exitEngine, brokerClient, candleStore, pips, killSwitch, 5*time.Second)

	exposureTrk := exposure.NewTracker(brokerClient, pips, time.Duration(cfg.ExposurePollIntervalSec)*time.Second)

	lossStreakCfg := lossstreak.DefaultConfig()
	lossStreakCfg.Enabled = cfg.LossStreak.Enabled
	lossStreakCfg.ConsecutiveLosses = cfg.LossStreak.ConsecutiveLosses
	lossStreakCfg.PauseDuration = time.Duration(cfg.LossStreak.PauseMinutes) * time.Minute
	lossStreakTracker := lossstreak.NewTracker(lossStreakCfg)

	orderFlowCfg := orderflow.DefaultConfig()
	orderFlowCfg.Enabled = cfg.OrderFlow.Enabled
	orderFlowCfg.LargeOrderMultiplier = cfg.OrderFlow.LargeOrderMultiplier
	orderFlowSnapshotter := orderflow.NewSnapshotter(orderFlowCfg, candleStore)

	smcCfg := smc.DefaultConfig()
	smcCfg.HTFTimeframe = market.Timeframe(cfg.SMC.HTFTimeframe)
	smcCfg.LTFTimeframe = market.Timeframe(cfg.SMC.LTFTimeframe)
	smcCfg.RefinementTimeframe = market.Timeframe(cfg.SMC.RefinementTimeframe)
	smcCfg.RiskReward = cfg.SMC.RiskReward
	signalGenerator := smc.NewGenerator(smcCfg, candleStore, pips)

	execFilter := filter.NewFilter(cfg, filter.GlobalRules{
		MaxConcurrentTradesGlobal: cfg.Exposure.MaxConcurrentTradesGlobal,
		MaxDailyRiskGlobal:        cfg.Exposure.MaxDailyRiskGlobal,
	})

	decisions, err := newDecisionStore(cfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	ingestor := orderevent.NewIngestor(bus, exitEngine)
	_ = ingestor // wired into httpServer below

	accountEquity := accountEquityFn()

	orch := orchestrator.New(orchestrator.Deps{
		Broker:          brokerClient,
		Prices:          poller,
		Signals:         signalGenerator,
		Filter:          execFilter,
		Risk:            riskManager,
		Exposure:        exposureTrk,
		KillSwitch:      killSwitch,
		Exit:            exitEngine,
		NewsGuard:       newsGuardClient,
		LossStreak:      lossStreakTracker,
		OrderFlow:       orderFlowSnapshotter,
		Decisions:       decisions,
		Config:          cfg,
		Pips:            pips,
		AccountEquityFn: accountEquity,
	})

	httpServer := httpapi.NewServer(cfg.HTTPAddr, httpapi.Deps{
		Exposure:   exposureTrk,
		Decisions:  decisions,
		KillSwitch: killSwitch,
		Ingestor:   ingestor,
	})

	telemetryServer := telemetry.NewServer(cfg.TelemetryAddr)

	return &components{
		cfg: cfg, broker: brokerClient, candles: candleStore, backfill: backfiller, poller: poller,
		orderFlow: orderFlowSnapshotter, lossStreak: lossStreakTracker, bus: bus,
		exitEngine: exitEngine, exitRunner: exitRunner, exposureTrk: exposureTrk,
		orchestrator: orch, httpServer: httpServer, telemetry: telemetryServer,
	}, nil
}

// newDecisionStore prefers Postgres when DATABASE_DSN is configured,
// falling back to an in-memory ring so the engine still runs without a
// database for local/dev use.
func newDecisionStore(cfg *config.AppConfig) (decisionlog.Store, error) {
	if cfg.DatabaseDSN == "" {
		return decisionlog.NewMemoryStore(10000), nil
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return decisionlog.NewPostgresStore(pool), nil
}

// accountEquityFn resolves the account equity callers use for risk
// sizing. The broker bridge contract (spec.md §6) has no
// GET /account/equity endpoint, so this is an operator-supplied
// constant, refreshed by restarting the engine after a deposit/withdrawal
// — mirroring the teacher's INITIAL_BALANCE env var in cmd/bot/main.go.
func accountEquityFn() func() decimal.Decimal {
	equity := decimal.NewFromInt(10000)
	if raw := os.Getenv("ACCOUNT_EQUITY"); raw != "" {
		if parsed, err := decimal.NewFromString(raw); err == nil {
			equity = parsed
		}
	}
	return func() decimal.Decimal { return equity }
}

// seedCandleHistory backfills each symbol's M1 candle history from the
// broker bridge before the tick loop starts, so the Signal Generator
// has enough bars for its HTF/LTF views immediately instead of waiting
// for the candle builder to accumulate them from live ticks. A failure
// on one symbol is logged and does not block the others.
func seedCandleHistory(ctx context.Context, backfill *market.Backfill, symbols []string) {
	const seedLimit = market.DefaultMaxCandles
	for _, symbol := range symbols {
		if err := backfill.Seed(ctx, symbol, seedLimit); err != nil {
			log.Printf("backfill: seeding %s failed: %v", symbol, err)
		}
	}
}

// runOrderFlowLoop periodically refreshes every symbol's order-flow
// snapshot; pollIntervalSeconds <= 0 falls back to 5s.
func runOrderFlowLoop(ctx context.Context, snap *orderflow.Snapshotter, symbols []string, pollIntervalSeconds int) {
	interval := time.Duration(pollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, symbol := range symbols {
				snap.Refresh(symbol, now)
			}
		}
	}
}

// wirePnLTracking keeps the orchestrator's per-strategy realized-PnL
// counters current as closed trades arrive on the event bus, since
// internal/risk.Manager is stateless and expects the caller to supply
// today's realized PnL on every CanTakeNewTrade call.
func wirePnLTracking(bus *events.Bus, orch *orchestrator.Orchestrator, cfg *config.AppConfig) func() {
	ch, unsub := bus.SubscribeTradeClosed("orchestrator-pnl", 32)
	go func() {
		for ev := range ch {
			orch.OnTradeClosed(cfg.StrategyFor(ev.Symbol), ev.Profit, ev.ClosedAt)
		}
	}()
	return unsub
}
