// Package config loads the engine's runtime configuration. Grounded on
// the teacher's config.Load() env-var idiom (getEnv/getEnvBool/getEnvInt,
// a validate() pass that aggregates missing-required-vars into one
// error), generalized to the engine's full option set and layered with
// a YAML file for the parts that don't fit flat env vars (per-symbol
// execution-filter rules, pip-value table entries) — mirroring
// FOTONPHOTOS-PULSEINTEL's internal/config/loader.go YAML+env layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ictrader/engine/internal/filter"
	"github.com/ictrader/engine/internal/pipvalue"
)

// StrategyConfig bounds one trading strategy's daily-risk guardrails.
type StrategyConfig struct {
	Name                string          `yaml:"name"`
	MaxDailyLossPercent decimal.Decimal `yaml:"maxDailyLossPercent"`
	MaxTrades           int             `yaml:"maxTrades"`
}

// SMCConfig configures the Signal Generator.
type SMCConfig struct {
	HTFTimeframe        string          `yaml:"htfTimeframe"`
	LTFTimeframe        string          `yaml:"ltfTimeframe"`
	RefinementTimeframe string          `yaml:"refinementTimeframe"`
	RiskReward          decimal.Decimal `yaml:"riskReward"`
}

// OrderFlowConfig configures the order-flow snapshotter.
type OrderFlowConfig struct {
	Enabled              bool            `yaml:"enabled"`
	PollIntervalSeconds  int             `yaml:"pollIntervalSeconds"`
	LargeOrderMultiplier decimal.Decimal `yaml:"largeOrderMultiplier"`
}

// KillSwitchConfig configures the kill-switch thresholds.
type KillSwitchConfig struct {
	Enabled                   bool            `yaml:"enabled"`
	MaxConsecutiveLosses      int             `yaml:"maxConsecutiveLosses"`
	MaxDailyLossPercent       decimal.Decimal `yaml:"maxDailyLossPercent"`
	AutoDisarmAfterHours      int             `yaml:"autoDisarmAfterHours"`
}

// LossStreakConfig configures the per-symbol loss-streak pause.
type LossStreakConfig struct {
	Enabled            bool `yaml:"enabled"`
	ConsecutiveLosses  int  `yaml:"consecutiveLosses"`
	PauseMinutes       int  `yaml:"pauseMinutes"`
}

// ExitConfig configures the Exit Engine's default behavior.
type ExitConfig struct {
	BreakEvenTriggerRMultiple decimal.Decimal `yaml:"breakEvenTriggerRMultiple"`
	PartialCloseRMultiple     decimal.Decimal `yaml:"partialCloseRMultiple"`
	PartialClosePercent       decimal.Decimal `yaml:"partialClosePercent"`
	TrailingActivateRMultiple decimal.Decimal `yaml:"trailingActivateRMultiple"`
	MaxHoldHours              int             `yaml:"maxHoldHours"`
	TrailMode                 string          `yaml:"trailMode"` // fixed_pips|atr|structure|volatility_adaptive
	TrailValue                decimal.Decimal `yaml:"trailValue"`
	MinDwellMinutesBeforeCommissionExit int    `yaml:"minDwellMinutesBeforeCommissionExit"`
}

// GlobalExposureConfig bounds exposure across every symbol.
type GlobalExposureConfig struct {
	MaxConcurrentTradesGlobal int             `yaml:"maxConcurrentTradesGlobal"`
	MaxDailyRiskGlobal        decimal.Decimal `yaml:"maxDailyRiskGlobal"`
}

// SymbolFile is the shape of the YAML file's per-symbol section: rule
// overrides for the Execution Filter and a pip-value table entry.
type SymbolFile struct {
	Symbol    string             `yaml:"symbol"`
	Strategy  string             `yaml:"strategy"` // "low" or "high", per spec.md Risk Context
	Rules     filter.SymbolRules `yaml:"rules"`
	PipValue  pipvalue.Spec      `yaml:"pipValue"`
	RiskPct   decimal.Decimal    `yaml:"riskPercent"`
}

// FileConfig is the YAML document layered under env-var overrides.
type FileConfig struct {
	Symbols    []SymbolFile     `yaml:"symbols"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// AppConfig aggregates configuration for the engine runtime.
type AppConfig struct {
	Environment     string
	TelemetryAddr   string
	HTTPAddr        string
	BrokerBaseURL   string
	NewsGuardURL    string
	RedisAddr       string
	DatabaseDSN     string
	TickIntervalSec int
	Symbols         []string

	SMC          SMCConfig
	OrderFlow    OrderFlowConfig
	KillSwitch   KillSwitchConfig
	LossStreak   LossStreakConfig
	Exit         ExitConfig
	Exposure     GlobalExposureConfig

	ExposurePollIntervalSec int

	Strategies     map[string]StrategyConfig
	SymbolRules    map[string]filter.SymbolRules
	PipTable       *pipvalue.Table
	SymbolRiskPct  map[string]decimal.Decimal
	SymbolStrategy map[string]string
}

// StrategyFor resolves the strategy tier ("low"/"high") configured for
// symbol, defaulting to "low" when unset.
func (c *AppConfig) StrategyFor(symbol string) string {
	if s, ok := c.SymbolStrategy[symbol]; ok {
		return s
	}
	return "low"
}

// Load reads the YAML symbol/rules file named by CONFIG_FILE (default
// "config.yaml", skipped entirely if absent) then layers environment
// variables on top, validating the result.
func Load() (*AppConfig, error) {
	file, err := loadFileConfig(getEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("config: loading file config: %w", err)
	}

	cfg := &AppConfig{
		Environment:     getEnv("APP_ENV", "development"),
		TelemetryAddr:   getEnv("TELEMETRY_ADDR", ":9100"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", ""),
		NewsGuardURL:    getEnv("NEWSGUARD_BASE_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		DatabaseDSN:     getEnv("DATABASE_DSN", ""),
		TickIntervalSec: getEnvInt("TICK_INTERVAL_SECONDS", 5),
		Symbols:         getEnvList("SYMBOLS", []string{"EURUSD", "GBPUSD", "XAUUSD"}),

		SMC: SMCConfig{
			HTFTimeframe:        getEnv("SMC_HTF_TIMEFRAME", "H4"),
			LTFTimeframe:        getEnv("SMC_LTF_TIMEFRAME", "M15"),
			RefinementTimeframe: getEnv("SMC_REFINEMENT_TIMEFRAME", "M1"),
			RiskReward:          getEnvDecimal("SMC_RISK_REWARD", decimal.NewFromInt(3)),
		},
		OrderFlow: OrderFlowConfig{
			Enabled:              getEnvBool("ORDERFLOW_ENABLED", true),
			PollIntervalSeconds:  getEnvInt("ORDERFLOW_POLL_INTERVAL_SECONDS", 5),
			LargeOrderMultiplier: getEnvDecimal("ORDERFLOW_LARGE_ORDER_MULTIPLIER", decimal.NewFromFloat(2.0)),
		},
		KillSwitch: KillSwitchConfig{
			Enabled:              getEnvBool("KILLSWITCH_ENABLED", true),
			MaxConsecutiveLosses: getEnvInt("KILLSWITCH_MAX_CONSECUTIVE_LOSSES", 5),
			MaxDailyLossPercent:  getEnvDecimal("KILLSWITCH_MAX_DAILY_LOSS_PERCENT", decimal.NewFromInt(5)),
			AutoDisarmAfterHours: getEnvInt("KILLSWITCH_AUTO_DISARM_HOURS", 24),
		},
		LossStreak: LossStreakConfig{
			Enabled:           getEnvBool("LOSSSTREAK_ENABLED", true),
			ConsecutiveLosses: getEnvInt("LOSSSTREAK_CONSECUTIVE_LOSSES", 3),
			PauseMinutes:      getEnvInt("LOSSSTREAK_PAUSE_MINUTES", 60),
		},
		Exit: ExitConfig{
			BreakEvenTriggerRMultiple: getEnvDecimal("EXIT_BREAKEVEN_R", decimal.NewFromInt(1)),
			PartialCloseRMultiple:     getEnvDecimal("EXIT_PARTIAL_R", decimal.NewFromFloat(1.5)),
			PartialClosePercent:       getEnvDecimal("EXIT_PARTIAL_PERCENT", decimal.NewFromInt(50)),
			TrailingActivateRMultiple: getEnvDecimal("EXIT_TRAILING_R", decimal.NewFromInt(2)),
			MaxHoldHours:              getEnvInt("EXIT_MAX_HOLD_HOURS", 48),
			TrailMode:                 getEnv("EXIT_TRAIL_MODE", "fixed_pips"),
			TrailValue:                getEnvDecimal("EXIT_TRAIL_VALUE", decimal.NewFromInt(15)),
			MinDwellMinutesBeforeCommissionExit: getEnvInt("EXIT_MIN_DWELL_MINUTES", 10),
		},
		Exposure: GlobalExposureConfig{
			MaxConcurrentTradesGlobal: getEnvInt("EXPOSURE_MAX_CONCURRENT_GLOBAL", 10),
			MaxDailyRiskGlobal:        getEnvDecimal("EXPOSURE_MAX_DAILY_RISK_GLOBAL", decimal.NewFromInt(500)),
		},
		ExposurePollIntervalSec: getEnvInt("EXPOSURE_POLL_INTERVAL_SECONDS", 10),

		Strategies:     make(map[string]StrategyConfig),
		SymbolRules:    make(map[string]filter.SymbolRules),
		SymbolRiskPct:  make(map[string]decimal.Decimal),
		SymbolStrategy: make(map[string]string),
	}

	specs := make(map[string]pipvalue.Spec)
	for _, sym := range file.Symbols {
		cfg.SymbolRules[sym.Symbol] = sym.Rules
		if !sym.RiskPct.IsZero() {
			cfg.SymbolRiskPct[sym.Symbol] = sym.RiskPct
		}
		if !sym.PipValue.PipSize.IsZero() {
			specs[sym.Symbol] = sym.PipValue
		}
		if sym.Strategy != "" {
			cfg.SymbolStrategy[sym.Symbol] = sym.Strategy
		}
	}
	cfg.PipTable = pipvalue.NewTable(specs)

	for _, s := range file.Strategies {
		cfg.Strategies[s.Name] = s
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

// Rules implements filter.RuleProvider against the YAML-loaded
// per-symbol rule set.
func (c *AppConfig) Rules(symbol string) (filter.SymbolRules, bool) {
	rules, ok := c.SymbolRules[symbol]
	return rules, ok
}

func (c *AppConfig) validate() error {
	var missing []string

	if c.BrokerBaseURL == "" {
		missing = append(missing, "BROKER_BASE_URL")
	}
	if len(c.Symbols) == 0 {
		missing = append(missing, "SYMBOLS")
	}
	if c.TickIntervalSec <= 0 {
		missing = append(missing, "TICK_INTERVAL_SECONDS (must be positive)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := decimal.NewFromString(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
