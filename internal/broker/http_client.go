package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ictrader/engine/internal/circuitbreaker"
	"github.com/ictrader/engine/internal/logger"
	"github.com/ictrader/engine/internal/ratelimit"
)

// DefaultCallTimeout bounds every broker HTTP call, per spec.md §5
// ("broker calls <= 5s").
const DefaultCallTimeout = 5 * time.Second

// HTTPClient is a Broker implementation that talks to a broker bridge
// sidecar over REST, following the same shape as chidi150c-coinbase's
// BridgeBroker: a bare net/http.Client, context-scoped timeouts, and
// defensive JSON decoding.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	limiter ratelimit.Limiter
	cb      *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewHTTPClient constructs a broker bridge client. requestsPerSecond/burst
// bound outbound calls; a nil circuit breaker config falls back to
// circuitbreaker.DefaultConfig().
func NewHTTPClient(baseURL string, requestsPerSecond float64, burst int, cbConfig *circuitbreaker.Config) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8181"
	}
	return &HTTPClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: DefaultCallTimeout},
		limiter: ratelimit.NewTokenBucket(requestsPerSecond, burst),
		cb:      circuitbreaker.New("broker-bridge", cbConfig),
		log:     logger.Component("broker"),
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broker: rate limiter: %w", err)
	}

	return c.cb.Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("broker: marshal request: %w", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("broker: new request %s: %w", path, err)
		}
		req.Header.Set("User-Agent", "ictengine/broker-client")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("broker: call %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("broker: %s returned %d: %s", path, resp.StatusCode, string(b))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("broker: decode %s response: %w", path, err)
		}
		return nil
	})
}

type priceWire struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Mid    decimal.Decimal `json:"mid"`
	Time   time.Time       `json:"time"`
}

func (c *HTTPClient) GetPrice(ctx context.Context, symbol string) (Price, error) {
	var wire priceWire
	if err := c.do(ctx, http.MethodGet, "/price/"+url.PathEscape(symbol), nil, &wire); err != nil {
		return Price{}, err
	}
	return Price{Symbol: wire.Symbol, Bid: wire.Bid, Ask: wire.Ask, Mid: wire.Mid, Time: wire.Time}, nil
}

type openPositionWire struct {
	Ticket     string          `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Volume     decimal.Decimal `json:"volume"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	EntryTime  time.Time       `json:"entryTime"`
	SL         decimal.Decimal `json:"sl"`
	TP         decimal.Decimal `json:"tp"`
}

func (c *HTTPClient) GetOpenPositions(ctx context.Context) ([]OpenPosition, error) {
	var wire []openPositionWire
	if err := c.do(ctx, http.MethodGet, "/open-positions", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]OpenPosition, 0, len(wire))
	for _, p := range wire {
		out = append(out, OpenPosition{
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Direction:  p.Direction,
			Volume:     p.Volume,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime,
			StopLoss:   p.SL,
			TakeProfit: p.TP,
		})
	}
	return out, nil
}

type openTradeWire struct {
	Symbol         string          `json:"symbol"`
	Direction      Direction       `json:"direction"`
	OrderKind      OrderKind       `json:"orderKind"`
	Volume         decimal.Decimal `json:"volume"`
	EntryPrice     decimal.Decimal `json:"entryPrice,omitempty"`
	StopLoss       decimal.Decimal `json:"stopLoss"`
	TakeProfit     decimal.Decimal `json:"takeProfit"`
	StopLimitPrice decimal.Decimal `json:"stopLimitPrice,omitempty"`
	MagicNumber    int64           `json:"magicNumber"`
	Comment        string          `json:"comment"`
}

type openTradeResultWire struct {
	Success bool   `json:"success"`
	Ticket  string `json:"ticket,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *HTTPClient) OpenTrade(ctx context.Context, req OpenTradeRequest) (OpenTradeResult, error) {
	wireReq := openTradeWire{
		Symbol:         req.Symbol,
		Direction:      req.Direction,
		OrderKind:      req.OrderKind,
		Volume:         req.Volume,
		EntryPrice:     req.EntryPrice,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		StopLimitPrice: req.StopLimitPrice,
		MagicNumber:    req.MagicNumber,
		Comment:        req.Comment,
	}
	var wireResp openTradeResultWire
	if err := c.do(ctx, http.MethodPost, "/trades/open", wireReq, &wireResp); err != nil {
		return OpenTradeResult{}, err
	}
	return OpenTradeResult(wireResp), nil
}

func (c *HTTPClient) CloseTrade(ctx context.Context, ticket string) (CloseTradeResult, error) {
	var wireResp struct {
		Success bool            `json:"success"`
		Profit  decimal.Decimal `json:"profit"`
		Error   string          `json:"error,omitempty"`
	}
	body := map[string]string{"ticket": ticket}
	if err := c.do(ctx, http.MethodPost, "/trades/close", body, &wireResp); err != nil {
		return CloseTradeResult{}, err
	}
	return CloseTradeResult{Success: wireResp.Success, Profit: wireResp.Profit, Error: wireResp.Error}, nil
}

func (c *HTTPClient) ModifyTrade(ctx context.Context, ticket string, sl, tp decimal.Decimal) (ModifyTradeResult, error) {
	var wireResp ModifyTradeResult
	body := map[string]any{"ticket": ticket, "sl": sl, "tp": tp}
	if err := c.do(ctx, http.MethodPost, "/trades/modify", body, &wireResp); err != nil {
		return ModifyTradeResult{}, err
	}
	return wireResp, nil
}

type candleWire struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
}

func (c *HTTPClient) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var wire []candleWire
	path := fmt.Sprintf("/candles/%s?%s", url.PathEscape(symbol), q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(wire))
	for _, w := range wire {
		out = append(out, Candle{
			Symbol: symbol, Timeframe: timeframe,
			Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume,
			StartTime: w.StartTime, EndTime: w.EndTime,
		})
	}
	return out, nil
}

var _ Broker = (*HTTPClient)(nil)
