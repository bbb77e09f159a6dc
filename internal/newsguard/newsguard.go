// Package newsguard talks to the external News Guardrail service: a
// "can I trade now" check consulted before every cycle, and a per-day map
// of scheduled news avoid-windows cached in Redis so repeated checks
// inside one trading day do not repeatedly hit the network.
// Grounded on the teacher's HTTP-bridge-plus-circuit-breaker idiom
// (internal/exchanges bridge pattern, now internal/broker/http_client.go)
// and FOTONPHOTOS-PULSEINTEL's internal/publisher/redis.go for the Redis
// client usage shape (spec.md §6 News Guardrail contract).
package newsguard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ictrader/engine/internal/circuitbreaker"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/ratelimit"
)

// DefaultCallTimeout matches spec.md §5: news-guardrail calls ≤ 2s.
const DefaultCallTimeout = 2 * time.Second

// NewsWindow is one scheduled avoid-window, keyed by date in the day map.
type NewsWindow struct {
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Currency          string    `json:"currency"`
	Impact            string    `json:"impact"`
	EventName         string    `json:"eventName"`
	IsCritical        bool      `json:"isCritical"`
	RiskScore         int       `json:"riskScore"`
	AvoidBeforeMinutes int      `json:"avoidBeforeMinutes"`
	AvoidAfterMinutes int       `json:"avoidAfterMinutes"`
	Reason            string    `json:"reason"`
	DetailedDescription string  `json:"detailedDescription"`
}

// DayRecord is the news-map response for one calendar date.
type DayRecord struct {
	Date         string       `json:"date"`
	AvoidWindows []NewsWindow `json:"avoidWindows"`
}

// CheckResult is the can-i-trade-now response.
type CheckResult struct {
	CanTrade         bool       `json:"canTrade"`
	InsideAvoidWindow bool      `json:"insideAvoidWindow"`
	ActiveWindow     *NewsWindow `json:"activeWindow,omitempty"`
	Metadata         CheckMetadata `json:"metadata"`
}

type CheckMetadata struct {
	TotalWindows    int       `json:"totalWindows"`
	CriticalWindows int       `json:"criticalWindows"`
	CheckedAt       time.Time `json:"checkedAt"`
	Strategy        string    `json:"strategy"`
}

// reducedRiskScore is the active window risk score at or above which
// CanTradeNow still allows trading but the Risk Context's guardrailMode
// falls to "reduced" (spec.md §3 "guardrailMode" / §304 normal|reduced|blocked).
const reducedRiskScore = 50

// Mode derives the Risk Context guardrailMode from this check: "blocked"
// when the guardrail itself refused the trade, "reduced" when trading is
// allowed but an elevated-risk window is active, else "normal".
func (r CheckResult) Mode() string {
	if !r.CanTrade {
		return "blocked"
	}
	if r.InsideAvoidWindow || (r.ActiveWindow != nil && r.ActiveWindow.RiskScore >= reducedRiskScore) {
		return "reduced"
	}
	return "normal"
}

// Client is the News Guardrail HTTP client, rate-limited and
// circuit-breaker protected like every other outbound dependency, with an
// optional Redis day-map cache.
type Client struct {
	baseURL string
	hc      *http.Client
	limiter ratelimit.Limiter
	cb      *circuitbreaker.CircuitBreaker
	redis   *redis.Client
	cacheTTL time.Duration
	log     *logger.Logger
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithRedisCache enables day-map caching in Redis with the given TTL.
func WithRedisCache(rdb *redis.Client, ttl time.Duration) Option {
	return func(c *Client) {
		c.redis = rdb
		c.cacheTTL = ttl
	}
}

// NewClient creates a News Guardrail client.
func NewClient(baseURL string, requestsPerSecond float64, burst int, cbConfig *circuitbreaker.Config, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: DefaultCallTimeout},
		limiter: ratelimit.NewTokenBucket(requestsPerSecond, burst),
		cb:      circuitbreaker.New("newsguard", cbConfig),
		cacheTTL: 24 * time.Hour,
		log:     logger.Component("newsguard"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanTradeNow asks the guardrail whether strategy may trade right now.
// Transient failures (timeout, non-2xx, transport error) bubble up as a
// wrapped error; callers must treat that as a conservative SKIP per
// spec.md §7, never as an implicit "yes".
func (c *Client) CanTradeNow(ctx context.Context, strategy string) (CheckResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return CheckResult{}, fmt.Errorf("newsguard rate limit: %w", err)
	}

	var result CheckResult
	err := c.cb.Execute(ctx, func() error {
		path := fmt.Sprintf("%s/can-i-trade-now?strategy=%s", c.baseURL, strategy)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("call can-i-trade-now: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("can-i-trade-now status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return CheckResult{}, err
	}
	return result, nil
}

// DayMap returns the avoid-windows for date (YYYY-MM-DD), consulting the
// Redis cache first when configured. A cache miss or Redis error falls
// back to a direct network call; a successful network call refreshes the
// cache for next time.
func (c *Client) DayMap(ctx context.Context, date string) (DayRecord, error) {
	if c.redis != nil {
		if rec, ok := c.readCache(ctx, date); ok {
			return rec, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return DayRecord{}, fmt.Errorf("newsguard rate limit: %w", err)
	}

	var rec DayRecord
	err := c.cb.Execute(ctx, func() error {
		path := fmt.Sprintf("%s/news-map/%s", c.baseURL, date)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("call news-map: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("news-map status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&rec)
	})
	if err != nil {
		return DayRecord{}, err
	}

	if c.redis != nil {
		c.writeCache(ctx, date, rec)
	}
	return rec, nil
}

func (c *Client) cacheKey(date string) string {
	return "newsguard:daymap:" + date
}

func (c *Client) readCache(ctx context.Context, date string) (DayRecord, bool) {
	raw, err := c.redis.Get(ctx, c.cacheKey(date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("redis cache read failed, falling back to network", "err", err)
		}
		return DayRecord{}, false
	}
	var rec DayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Warn("redis cache payload corrupt, falling back to network", "err", err)
		return DayRecord{}, false
	}
	return rec, true
}

func (c *Client) writeCache(ctx context.Context, date string, rec DayRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.cacheKey(date), payload, c.cacheTTL).Err(); err != nil {
		c.log.Warn("redis cache write failed", "err", err)
	}
}
