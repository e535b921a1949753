// userstream.go implements the authenticated user data stream.
//
// The stream is addressed by a listen key with a 60-minute lifetime. The
// key is created on each connect and refreshed once less than 45 minutes
// remain, checked every minute. Three event kinds are routed to typed
// channels: ACCOUNT_UPDATE (balances and venue positions),
// ORDER_TRADE_UPDATE (order lifecycle) and ACCOUNT_CONFIG_UPDATE
// (leverage changes).
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"futures-bot/pkg/types"
)

const (
	listenKeyLifetime = 60 * time.Minute
	listenKeyRefresh  = 45 * time.Minute // refresh when less than this remains
	listenKeyCheck    = time.Minute
)

// UserEvents is the typed fan-out of user data stream events. Both the
// real stream and the fake replay client emit through it, so downstream
// consumers cannot tell the two apart.
type UserEvents struct {
	accountCh chan types.Account
	orderCh   chan *types.Order
	configCh  chan types.AccountConfig
	logger    *slog.Logger
}

// NewUserEvents creates the event hub.
func NewUserEvents(logger *slog.Logger) *UserEvents {
	return &UserEvents{
		accountCh: make(chan types.Account, 64),
		orderCh:   make(chan *types.Order, 256),
		configCh:  make(chan types.AccountConfig, 16),
		logger:    logger.With("component", "user_events"),
	}
}

// Accounts returns a read-only channel of account snapshots (deltas).
func (e *UserEvents) Accounts() <-chan types.Account { return e.accountCh }

// Orders returns a read-only channel of order lifecycle updates.
func (e *UserEvents) Orders() <-chan *types.Order { return e.orderCh }

// Configs returns a read-only channel of leverage change notifications.
func (e *UserEvents) Configs() <-chan types.AccountConfig { return e.configCh }

// EmitAccount publishes an account delta, dropping on a full channel.
func (e *UserEvents) EmitAccount(acc types.Account) {
	select {
	case e.accountCh <- acc:
	default:
		e.logger.Warn("account channel full, dropping event")
	}
}

// EmitOrder publishes an order update, dropping on a full channel.
func (e *UserEvents) EmitOrder(order *types.Order) {
	select {
	case e.orderCh <- order:
	default:
		e.logger.Warn("order channel full, dropping event", "id", order.ID)
	}
}

// EmitConfig publishes a leverage change, dropping on a full channel.
func (e *UserEvents) EmitConfig(cfg types.AccountConfig) {
	select {
	case e.configCh <- cfg:
	default:
		e.logger.Warn("config channel full, dropping event", "symbol", cfg.Symbol)
	}
}

// UserStream maintains the live user data stream connection.
type UserStream struct {
	*UserEvents

	wsBase string
	client *UserClient
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}
}

// NewUserStream creates a user data stream over the given signed client.
func NewUserStream(wsBase string, client *UserClient, events *UserEvents, logger *slog.Logger) *UserStream {
	return &UserStream{
		UserEvents: events,
		wsBase:     wsBase,
		client:     client,
		logger:     logger.With("component", "user_stream"),
		ready:      make(chan struct{}),
	}
}

// Ready is closed after the first successful connect.
func (s *UserStream) Ready() <-chan struct{} { return s.ready }

// Run connects and maintains the stream with auto-reconnect. Blocks until
// ctx is cancelled.
func (s *UserStream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		start := time.Now()
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}

		s.logger.Warn("user stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *UserStream) connectAndRead(ctx context.Context) error {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("listen key: %w", err)
	}
	createdAt := time.Now()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsBase+"/ws/"+key, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.logger.Info("user stream connected")
	s.readyOnce.Do(func() { close(s.ready) })

	keepCtx, keepCancel := context.WithCancel(ctx)
	defer keepCancel()
	go s.keepAliveLoop(keepCtx, conn, createdAt)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatchMessage(msg)
	}
}

// keepAliveLoop refreshes the listen key before it expires. A failed
// refresh drops the connection so Run re-dials with a fresh key.
func (s *UserStream) keepAliveLoop(ctx context.Context, conn *websocket.Conn, createdAt time.Time) {
	ticker := time.NewTicker(listenKeyCheck)
	defer ticker.Stop()

	lastRefresh := createdAt
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := listenKeyLifetime - time.Since(lastRefresh)
			if remaining >= listenKeyRefresh {
				continue
			}
			if err := s.client.KeepAliveListenKey(ctx); err != nil {
				s.logger.Warn("listen key refresh failed, reconnecting", "error", err)
				conn.Close()
				return
			}
			lastRefresh = time.Now()
			s.logger.Debug("listen key refreshed")
		}
	}
}

func (s *UserStream) dispatchMessage(data []byte) {
	var envelope struct {
		Event types.UserStreamEntity `json:"e"`
		Time  types.Timestamp        `json:"T"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json user stream message", "data", string(data))
		return
	}

	switch envelope.Event {
	case types.EntityAccountUpdate:
		var evt struct {
			Data struct {
				Balances []struct {
					Asset              types.Asset `json:"a"`
					CrossWalletBalance string      `json:"cw"`
				} `json:"B"`
				Positions []struct {
					Symbol         types.Symbol       `json:"s"`
					PositionSide   types.PositionSide `json:"ps"`
					PositionAmt    string             `json:"pa"`
					EntryPrice     string             `json:"ep"`
					MarginType     string             `json:"mt"`
					IsolatedWallet string             `json:"iw"`
				} `json:"P"`
			} `json:"a"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal account update", "error", err)
			return
		}
		acc := types.Account{}
		for _, b := range evt.Data.Balances {
			bal, err := parseDecimal("cw", b.CrossWalletBalance)
			if err != nil {
				s.logger.Error("decode balance", "asset", b.Asset, "error", err)
				continue
			}
			acc.Assets = append(acc.Assets, types.AccountBalance{Asset: b.Asset, Balance: bal})
		}
		for _, p := range evt.Data.Positions {
			amt, err := parseDecimal("pa", p.PositionAmt)
			if err != nil {
				s.logger.Error("decode position", "symbol", p.Symbol, "error", err)
				continue
			}
			entry, err := parseDecimal("ep", p.EntryPrice)
			if err != nil {
				s.logger.Error("decode position", "symbol", p.Symbol, "error", err)
				continue
			}
			wallet, err := parseDecimal("iw", p.IsolatedWallet)
			if err != nil {
				s.logger.Error("decode position", "symbol", p.Symbol, "error", err)
				continue
			}
			acc.Positions = append(acc.Positions, types.AccountPosition{
				Symbol:         p.Symbol,
				Side:           p.PositionSide,
				Quantity:       amt.Abs(),
				EntryPrice:     entry,
				Isolated:       p.MarginType == "isolated",
				IsolatedWallet: wallet,
			})
		}
		s.EmitAccount(acc)

	case types.EntityOrderTradeUpdate:
		var evt struct {
			Data struct {
				Symbol        types.Symbol        `json:"s"`
				ClientOrderID types.ClientOrderID `json:"c"`
				Side          types.Side          `json:"S"`
				Type          types.OrderType     `json:"ot"`
				Status        types.OrderStatus   `json:"X"`
				ID            types.OrderID       `json:"i"`
				PositionSide  types.PositionSide  `json:"ps"`
				Quantity      string              `json:"q"`
				AvgPrice      string              `json:"ap"`
			} `json:"o"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal order update", "error", err)
			return
		}
		o := evt.Data
		qty, err := parseDecimal("q", o.Quantity)
		if err != nil {
			s.logger.Error("decode order update", "id", o.ID, "error", err)
			return
		}
		avg, err := parseDecimal("ap", o.AvgPrice)
		if err != nil {
			s.logger.Error("decode order update", "id", o.ID, "error", err)
			return
		}
		s.EmitOrder(&types.Order{
			ID:            o.ID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Status:        o.Status,
			Type:          o.Type,
			Side:          o.Side,
			PositionSide:  o.PositionSide,
			Quantity:      qty.Abs(),
			Price:         avg,
			Timestamp:     envelope.Time,
		})

	case types.EntityAccountConfigUpdate:
		var evt struct {
			Config struct {
				Symbol   types.Symbol `json:"s"`
				Leverage int          `json:"l"`
			} `json:"ac"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal account config update", "error", err)
			return
		}
		if evt.Config.Symbol != "" {
			s.EmitConfig(types.AccountConfig{Symbol: evt.Config.Symbol, Leverage: evt.Config.Leverage})
		}

	case "":
		// control frame

	default:
		s.logger.Debug("unhandled user stream event", "type", envelope.Event)
	}
}
