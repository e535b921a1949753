// user.go implements the signed (private) REST surface:
//   - GetAccountInfo:     GET  /fapi/v2/account
//   - ChangeLeverage:     POST /fapi/v1/leverage
//   - IsHedgeMode:        GET  /fapi/v1/positionSide/dual
//   - ChangePositionMode: POST /fapi/v1/positionSide/dual
//   - ChangeMarginType:   POST /fapi/v1/marginType
//   - PlaceOrder:         POST /fapi/v1/order
//   - GetOrder:           GET  /fapi/v1/order
//   - CancelOrder:        DELETE /fapi/v1/order
//   - listen key management for the user data stream
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/pkg/types"
)

// UserClient is the signed REST API client for one venue account.
type UserClient struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewUserClient creates a signed REST client.
func NewUserClient(cfg config.ExchangeConfig, logger *slog.Logger) *UserClient {
	return &UserClient{
		http:   newHTTPClient(cfg),
		auth:   NewAuth(cfg.ApiKey, cfg.PrivateKey),
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange_user"),
	}
}

// signed performs one signed request through the given budget bucket.
func (c *UserClient) signed(ctx context.Context, bucket *TokenBucket, method, path string, params url.Values, result any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.auth.ApiKey()).
		SetQueryString(c.auth.Sign(params))
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return checkStatus(resp, fmt.Sprintf("%s %s", method, path))
}

// GetAccountInfo fetches balances and open venue positions.
func (c *UserClient) GetAccountInfo(ctx context.Context) (*types.Account, error) {
	var result accountResponse
	if err := c.signed(ctx, c.rl.Request, resty.MethodGet, "/fapi/v2/account", nil, &result); err != nil {
		return nil, err
	}
	return result.account(), nil
}

// ChangeLeverage sets the symbol's leverage. An empty confirmation means
// the venue silently refused the change.
func (c *UserClient) ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("leverage", strconv.Itoa(leverage))

	var result struct {
		Symbol   types.Symbol `json:"symbol"`
		Leverage int          `json:"leverage"`
	}
	if err := c.signed(ctx, c.rl.Request, resty.MethodPost, "/fapi/v1/leverage", params, &result); err != nil {
		return err
	}
	if result.Symbol == "" {
		return fmt.Errorf("change leverage %s: %w", symbol, ErrOperationFailed)
	}
	c.logger.Info("leverage changed", "symbol", symbol, "leverage", result.Leverage)
	return nil
}

// IsHedgeMode reports whether the account is in dual position side mode.
func (c *UserClient) IsHedgeMode(ctx context.Context) (bool, error) {
	var result struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := c.signed(ctx, c.rl.Request, resty.MethodGet, "/fapi/v1/positionSide/dual", nil, &result); err != nil {
		return false, err
	}
	return result.DualSidePosition, nil
}

// ChangePositionMode switches the account between one-way and hedge mode.
func (c *UserClient) ChangePositionMode(ctx context.Context, hedge bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(hedge))

	if err := c.signed(ctx, c.rl.Request, resty.MethodPost, "/fapi/v1/positionSide/dual", params, nil); err != nil {
		return err
	}
	c.logger.Info("position mode changed", "hedge", hedge)
	return nil
}

// ChangeMarginType sets the symbol's margin mode.
func (c *UserClient) ChangeMarginType(ctx context.Context, symbol types.Symbol, margin types.MarginType) error {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("marginType", string(margin))

	if err := c.signed(ctx, c.rl.Order, resty.MethodPost, "/fapi/v1/marginType", params, nil); err != nil {
		return err
	}
	c.logger.Info("margin type changed", "symbol", symbol, "margin", margin)
	return nil
}

// PlaceOrder submits a MARKET order tagged with the given client order id.
// The immediate response usually reports the order as NEW; the fill arrives
// via the user stream or a later GetOrder.
func (c *UserClient) PlaceOrder(
	ctx context.Context,
	clientOrderID types.ClientOrderID,
	symbol types.Symbol,
	quantity decimal.Decimal,
	side types.Side,
	positionSide types.PositionSide,
) (*types.Order, error) {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("type", string(types.OrderMarket))
	params.Set("quantity", quantity.String())
	params.Set("side", string(side))
	params.Set("positionSide", string(positionSide))
	params.Set("newClientOrderId", string(clientOrderID))

	var result orderResponse
	if err := c.signed(ctx, c.rl.Order, resty.MethodPost, "/fapi/v1/order", params, &result); err != nil {
		return nil, err
	}
	return result.order(), nil
}

// GetOrder fetches an order by client order id.
func (c *UserClient) GetOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error) {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("origClientOrderId", string(clientOrderID))

	var result orderResponse
	if err := c.signed(ctx, c.rl.Request, resty.MethodGet, "/fapi/v1/order", params, &result); err != nil {
		return nil, err
	}
	return result.order(), nil
}

// CancelOrder cancels an open order by client order id.
func (c *UserClient) CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error) {
	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("origClientOrderId", string(clientOrderID))

	var result orderResponse
	if err := c.signed(ctx, c.rl.Order, resty.MethodDelete, "/fapi/v1/order", params, &result); err != nil {
		return nil, err
	}
	return result.order(), nil
}

// CreateListenKey opens a user data stream and returns its key. Listen keys
// are unsigned; only the API key header is required.
func (c *UserClient) CreateListenKey(ctx context.Context) (string, error) {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return "", err
	}
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.auth.ApiKey()).
		SetResult(&result).
		Post("/fapi/v1/listenKey")
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if err := checkStatus(resp, "create listen key"); err != nil {
		return "", err
	}
	if result.ListenKey == "" {
		return "", fmt.Errorf("create listen key: %w", ErrOperationFailed)
	}
	return result.ListenKey, nil
}

// KeepAliveListenKey extends the listen key's 60-minute lifetime.
func (c *UserClient) KeepAliveListenKey(ctx context.Context) error {
	if err := c.rl.Request.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.auth.ApiKey()).
		Put("/fapi/v1/listenKey")
	if err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	return checkStatus(resp, "keepalive listen key")
}
