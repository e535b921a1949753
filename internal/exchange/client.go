// Package exchange implements the futures venue REST and WebSocket clients.
//
// The public REST client (Client) serves market structure and history:
//   - GetContracts:   GET /fapi/v1/exchangeInfo  — trading rules per symbol
//   - GetCandles:     GET /fapi/v1/klines        — historical OHLCV bars
//   - GetBook:        GET /fapi/v1/ticker/bookTicker — best bid/ask
//   - GetDepth:       GET /fapi/v1/depth         — order book snapshot
//   - GetFundingRate: GET /fapi/v1/premiumIndex  — funding state
//
// The private client (UserClient) signs account and order operations, and
// manages the user data stream listen key. Every request is rate-limited
// via per-budget TokenBuckets and automatically retried on 5xx errors.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"futures-bot/internal/config"
	"futures-bot/pkg/types"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	mainnetStreamURL = "wss://fstream.binance.com"
	testnetStreamURL = "wss://stream.binancefuture.com"
)

// baseURL returns the REST base for the configured environment.
func baseURL(cfg config.ExchangeConfig) string {
	if cfg.Testnet {
		return testnetBaseURL
	}
	return mainnetBaseURL
}

// StreamURL returns the WebSocket base for the configured environment.
func StreamURL(cfg config.ExchangeConfig) string {
	if cfg.Testnet {
		return testnetStreamURL
	}
	return mainnetStreamURL
}

func newHTTPClient(cfg config.ExchangeConfig) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL(cfg)).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}

// checkStatus converts a non-200 response into an error. Venue rejections
// (400/401) carry a {code, msg} body and become *APIError.
func checkStatus(resp *resty.Response, op string) error {
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
		apiErr := &APIError{Status: resp.StatusCode()}
		if err := json.Unmarshal(resp.Body(), apiErr); err == nil {
			return apiErr
		}
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
}

// Client is the public (unsigned) REST API client.
type Client struct {
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a public REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	return &Client{
		http:   newHTTPClient(cfg),
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange"),
	}
}

// GetContracts fetches trading rules for every actively trading symbol.
func (c *Client) GetContracts(ctx context.Context) (map[types.Symbol]types.Contract, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return nil, err
	}

	var result exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}
	if err := checkStatus(resp, "get exchange info"); err != nil {
		return nil, err
	}

	contracts := make(map[types.Symbol]types.Contract, len(result.Symbols))
	for _, s := range result.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		contracts[s.Symbol] = s.contract()
	}
	return contracts, nil
}

// GetCandles fetches up to limit historical bars for the symbol/timeframe,
// oldest first. The newest bar may still be open.
func (c *Client) GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []rawKline
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   string(symbol),
			"interval": string(tf),
			"limit":    fmt.Sprintf("%d", limit),
		}).
		SetResult(&rows).
		Get("/fapi/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("get klines: %w", err)
	}
	if err := checkStatus(resp, "get klines"); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := row.candle()
		if err != nil {
			return nil, fmt.Errorf("decode kline: %w", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetBook fetches the current best bid/ask for one symbol.
func (c *Client) GetBook(ctx context.Context, symbol types.Symbol) (types.BookUpdate, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return types.BookUpdate{}, err
	}

	var result bookTickerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&result).
		Get("/fapi/v1/ticker/bookTicker")
	if err != nil {
		return types.BookUpdate{}, fmt.Errorf("get book ticker: %w", err)
	}
	if err := checkStatus(resp, "get book ticker"); err != nil {
		return types.BookUpdate{}, err
	}
	return types.BookUpdate{Bid: result.BidPrice, Ask: result.AskPrice}, nil
}

// GetDepth fetches an order book snapshot with its sequence number.
func (c *Client) GetDepth(ctx context.Context, symbol types.Symbol, limit int) (*types.DepthSnapshot, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.DepthSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": string(symbol),
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&result).
		Get("/fapi/v1/depth")
	if err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}
	if err := checkStatus(resp, "get depth"); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFundingRate fetches the current funding state of a perpetual contract.
// The returned rate is in percent.
func (c *Client) GetFundingRate(ctx context.Context, symbol types.Symbol) (*types.FundingRate, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return nil, err
	}

	var result premiumIndexResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", string(symbol)).
		SetResult(&result).
		Get("/fapi/v1/premiumIndex")
	if err != nil {
		return nil, fmt.Errorf("get premium index: %w", err)
	}
	if err := checkStatus(resp, "get premium index"); err != nil {
		return nil, err
	}
	return result.fundingRate(), nil
}
