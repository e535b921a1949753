// stream.go implements the public market data WebSocket feed.
//
// One connection carries every subscribed channel: {symbol}@aggTrade,
// {symbol}@bookTicker and {symbol}@depth. Events are routed to typed
// channels keyed by symbol. The feed auto-reconnects with exponential
// backoff (1s → 30s max) and re-subscribes on reconnection; each successful
// (re)connect is signalled on Resets so the publisher can tell consumers
// their derived state is void. A read deadline detects silent server
// failures.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"futures-bot/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	eventBufferSize  = 1024             // buffer for market events
)

// TradeEvent is one aggregated trade with its symbol.
type TradeEvent struct {
	Symbol types.Symbol
	Trade  types.TradeUpdate
}

// BookEvent is one best bid/ask change with its symbol.
type BookEvent struct {
	Symbol types.Symbol
	Book   types.BookUpdate
}

// DepthEvent is one order book diff.
type DepthEvent struct {
	Depth types.DepthUpdate
}

// MarketStream manages the public market data connection. It handles the
// connection lifecycle, channel subscription, message routing, and
// automatic reconnection with exponential backoff.
type MarketStream struct {
	url      string
	channels []string

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes
	nextID int        // subscribe request id, under connMu

	tradeCh chan TradeEvent
	bookCh  chan BookEvent
	depthCh chan DepthEvent
	resetCh chan struct{}

	logger *slog.Logger
}

// NewMarketStream creates a feed for the given symbols and entities.
// wsBase is the environment's WebSocket base URL (no path).
func NewMarketStream(wsBase string, symbols []types.Symbol, entities []types.StreamEntity, logger *slog.Logger) *MarketStream {
	var channels []string
	for _, sym := range symbols {
		lower := strings.ToLower(string(sym))
		for _, ent := range entities {
			switch ent {
			case types.EntityTrade:
				channels = append(channels, lower+"@aggTrade")
			case types.EntityBook:
				channels = append(channels, lower+"@bookTicker")
			case types.EntityDepth:
				channels = append(channels, lower+"@depth")
			}
		}
	}
	return &MarketStream{
		url:      wsBase + "/ws",
		channels: channels,
		tradeCh:  make(chan TradeEvent, eventBufferSize),
		bookCh:   make(chan BookEvent, eventBufferSize),
		depthCh:  make(chan DepthEvent, eventBufferSize),
		resetCh:  make(chan struct{}, 1),
		logger:   logger.With("component", "market_stream"),
	}
}

// Trades returns a read-only channel of aggregated trades.
func (s *MarketStream) Trades() <-chan TradeEvent { return s.tradeCh }

// Books returns a read-only channel of best bid/ask changes.
func (s *MarketStream) Books() <-chan BookEvent { return s.bookCh }

// Depths returns a read-only channel of order book diffs.
func (s *MarketStream) Depths() <-chan DepthEvent { return s.depthCh }

// Resets signals each successful (re)connect. Consumers must treat all
// derived state as void when it fires.
func (s *MarketStream) Resets() <-chan struct{} { return s.resetCh }

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (s *MarketStream) Run(ctx context.Context) error {
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

		s.logger.Warn("websocket disconnected, reconnecting",
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

// Reconnect forcibly drops the current connection. Run picks it up and
// dials again; used when upstream data is too far behind wall clock.
func (s *MarketStream) Reconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

// Close gracefully closes the connection.
func (s *MarketStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MarketStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
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

	if err := s.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("websocket connected", "channels", len(s.channels))
	select {
	case s.resetCh <- struct{}{}:
	default:
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent
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

func (s *MarketStream) subscribe() error {
	s.connMu.Lock()
	s.nextID++
	id := s.nextID
	s.connMu.Unlock()

	msg := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: s.channels, ID: id}

	return s.writeJSON(msg)
}

func (s *MarketStream) dispatchMessage(data []byte) {
	// Peek at the event type to route. Subscription confirmations carry no
	// "e" field and are skipped.
	var envelope struct {
		Event  string       `json:"e"`
		Symbol types.Symbol `json:"s"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Event {
	case "aggTrade":
		var evt struct {
			Price        string          `json:"p"`
			Quantity     string          `json:"q"`
			TradeTime    types.Timestamp `json:"T"`
			IsBuyerMaker bool            `json:"m"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal aggTrade", "error", err)
			return
		}
		trade, err := decodeTrade(evt.Price, evt.Quantity, evt.TradeTime, evt.IsBuyerMaker)
		if err != nil {
			s.logger.Error("decode aggTrade", "error", err)
			return
		}
		select {
		case s.tradeCh <- TradeEvent{Symbol: envelope.Symbol, Trade: trade}:
		default:
			s.logger.Warn("trade channel full, dropping event", "symbol", envelope.Symbol)
		}

	case "bookTicker":
		var evt struct {
			Bid string `json:"b"`
			Ask string `json:"a"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal bookTicker", "error", err)
			return
		}
		book, err := decodeBook(evt.Bid, evt.Ask)
		if err != nil {
			s.logger.Error("decode bookTicker", "error", err)
			return
		}
		select {
		case s.bookCh <- BookEvent{Symbol: envelope.Symbol, Book: book}:
		default:
			s.logger.Warn("book channel full, dropping event", "symbol", envelope.Symbol)
		}

	case "depthUpdate":
		var evt struct {
			Symbol          types.Symbol       `json:"s"`
			TransactionTime types.Timestamp    `json:"T"`
			FirstID         int64              `json:"U"`
			LastID          int64              `json:"u"`
			Bids            []types.PriceLevel `json:"b"`
			Asks            []types.PriceLevel `json:"a"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal depthUpdate", "error", err)
			return
		}
		depth := types.DepthUpdate{
			Symbol:    evt.Symbol,
			FirstID:   evt.FirstID,
			LastID:    evt.LastID,
			Bids:      evt.Bids,
			Asks:      evt.Asks,
			Timestamp: evt.TransactionTime,
		}
		select {
		case s.depthCh <- DepthEvent{Depth: depth}:
		default:
			s.logger.Warn("depth channel full, dropping event", "symbol", evt.Symbol)
		}

	case "":
		// subscription ack or other control frame

	default:
		s.logger.Debug("unknown ws event type", "type", envelope.Event)
	}
}

func (s *MarketStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *MarketStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *MarketStream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}
