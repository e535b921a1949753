package exchange

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestContractDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"symbols":[{
		"symbol":"BTCUSDT","status":"TRADING",
		"baseAsset":"BTC","quoteAsset":"USDT",
		"pricePrecision":2,"quantityPrecision":3,
		"filters":[{"filterType":"PRICE_FILTER"},{"filterType":"MIN_NOTIONAL","notional":"100"}]
	}]}`)

	var info exchangeInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c := info.Symbols[0].contract()
	if c.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s", c.Symbol)
	}
	if c.BaseAsset != "BTC" || c.QuoteAsset != "USDT" {
		t.Errorf("assets = %s/%s, want BTC/USDT", c.BaseAsset, c.QuoteAsset)
	}
	if !c.TickSize.Equal(dec("0.01")) {
		t.Errorf("tick size = %s, want 0.01", c.TickSize)
	}
	if !c.LotSize.Equal(dec("0.001")) {
		t.Errorf("lot size = %s, want 0.001", c.LotSize)
	}
	if !c.MinNotional.Equal(dec("100")) {
		t.Errorf("min notional = %s, want 100", c.MinNotional)
	}
}

func TestContractDecodeMinNotionalFallback(t *testing.T) {
	t.Parallel()

	// older filter schema spells the field minNotional
	raw := []byte(`{"symbols":[{
		"symbol":"ETHUSDT","pricePrecision":2,"quantityPrecision":2,
		"filters":[{"filterType":"MIN_NOTIONAL","minNotional":"20"}]
	}]}`)

	var info exchangeInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c := info.Symbols[0].contract()
	if !c.MinNotional.Equal(dec("20")) {
		t.Errorf("min notional = %s, want 20", c.MinNotional)
	}
}

func TestKlineDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`[[1699999200000,"30000.0","30100.5","29950.1","30050.2","12.345",1699999259999,"0",0,"0","0","0"]]`)
	var rows []rawKline
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	candle, err := rows[0].candle()
	if err != nil {
		t.Fatalf("candle: %v", err)
	}
	if candle.Timestamp != 1699999200000 {
		t.Errorf("timestamp = %d", candle.Timestamp)
	}
	if !candle.Open.Equal(dec("30000.0")) || !candle.High.Equal(dec("30100.5")) ||
		!candle.Low.Equal(dec("29950.1")) || !candle.Close.Equal(dec("30050.2")) ||
		!candle.Volume.Equal(dec("12.345")) {
		t.Errorf("candle = %+v", candle)
	}

	if _, err := (rawKline{1.0, "1"}).candle(); err == nil {
		t.Error("want error for short kline row")
	}
}

func TestAccountDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"assets":[{"asset":"USDT","crossWalletBalance":"1000.5"}],
		"positions":[{
			"symbol":"BTCUSDT","positionSide":"SHORT","positionAmt":"-0.5",
			"entryPrice":"30000","isolated":true,"isolatedWallet":"150"
		}]
	}`)
	var resp accountResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	acc := resp.account()
	if len(acc.Assets) != 1 || acc.Assets[0].Asset != "USDT" || !acc.Assets[0].Balance.Equal(dec("1000.5")) {
		t.Errorf("assets = %+v", acc.Assets)
	}
	if len(acc.Positions) != 1 {
		t.Fatalf("positions = %+v", acc.Positions)
	}
	p := acc.Positions[0]
	if p.Side != types.PositionShort || !p.Quantity.Equal(dec("0.5")) {
		t.Errorf("short quantity must be stored positive: %+v", p)
	}
	if !p.Isolated || !p.IsolatedWallet.Equal(dec("150")) {
		t.Errorf("isolated fields = %+v", p)
	}
}

func TestOrderDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"orderId":123,"clientOrderId":"abc","symbol":"BTCUSDT","status":"FILLED",
		"type":"MARKET","side":"BUY","positionSide":"LONG",
		"origQty":"0.010","avgPrice":"30000.5","updateTime":1699999200000
	}`)
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	o := resp.order()
	if o.ID != 123 || o.ClientOrderID != "abc" || o.Status != types.StatusFilled {
		t.Errorf("order = %+v", o)
	}
	if !o.Quantity.Equal(dec("0.010")) || !o.Price.Equal(dec("30000.5")) {
		t.Errorf("order amounts = %s @ %s", o.Quantity, o.Price)
	}
	if !o.IsFilled() {
		t.Error("IsFilled = false")
	}
}

func TestFundingRateDecode(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"symbol":"BTCUSDT","lastFundingRate":"0.0001","nextFundingTime":1700020800000}`)
	var resp premiumIndexResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fr := resp.fundingRate()
	if !fr.Rate.Equal(dec("0.01")) {
		t.Errorf("rate = %s, want 0.01 percent", fr.Rate)
	}
}

func TestAPIErrorDecode(t *testing.T) {
	t.Parallel()

	var apiErr APIError
	if err := json.Unmarshal([]byte(`{"code":-1102,"msg":"Mandatory parameter missing"}`), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	apiErr.Status = 400
	if apiErr.Code != -1102 || apiErr.Msg == "" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

// staticPrices serves one fixed book and a USDT-quoted contract for
// every symbol.
type staticPrices struct {
	book types.BookUpdate
}

func (s staticPrices) Book(types.Symbol) (types.BookUpdate, bool) {
	return s.book, true
}

func (s staticPrices) Contract(symbol types.Symbol) (types.Contract, bool) {
	base := types.Asset(strings.TrimSuffix(string(symbol), "USDT"))
	return types.Contract{Symbol: symbol, BaseAsset: base, QuoteAsset: "USDT"}, true
}

func TestFakeUserClientFillsMarketBuy(t *testing.T) {
	t.Parallel()

	prices := staticPrices{book: types.BookUpdate{Bid: dec("99"), Ask: dec("100")}}
	events := NewUserEvents(testLogger())
	c := NewFakeUserClient(prices, events, testLogger())

	order, err := c.PlaceOrder(context.Background(), "coid-1", "BTCUSDT", dec("1"), types.BUY, types.PositionLong)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Status != types.StatusFilled {
		t.Errorf("status = %s", order.Status)
	}
	if !order.Price.Equal(dec("100")) {
		t.Errorf("BUY fill price = %s, want ask 100", order.Price)
	}

	acc, err := c.GetAccountInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var usdt, btc decimal.Decimal
	for _, a := range acc.Assets {
		switch a.Asset {
		case "USDT":
			usdt = a.Balance
		case "BTC":
			btc = a.Balance
		}
	}
	// 1000 − 100 − 0.04% commission
	if !usdt.Equal(dec("899.96")) {
		t.Errorf("USDT = %s, want 899.96", usdt)
	}
	if !btc.Equal(dec("1.1")) {
		t.Errorf("BTC = %s, want 1.1", btc)
	}

	// fill must surface as account then order events
	select {
	case <-events.Accounts():
	default:
		t.Error("no account event emitted")
	}
	select {
	case evt := <-events.Orders():
		if evt.ClientOrderID != "coid-1" {
			t.Errorf("order event = %+v", evt)
		}
	default:
		t.Error("no order event emitted")
	}

	got, err := c.GetOrder(context.Background(), "BTCUSDT", "coid-1")
	if err != nil || got.ID != order.ID {
		t.Errorf("GetOrder = %+v, %v", got, err)
	}
}

func TestFakeUserClientPositionNetting(t *testing.T) {
	t.Parallel()

	prices := staticPrices{book: types.BookUpdate{Bid: dec("99"), Ask: dec("100")}}
	c := NewFakeUserClient(prices, NewUserEvents(testLogger()), testLogger())
	ctx := context.Background()

	if _, err := c.PlaceOrder(ctx, "a", "ETHUSDT", dec("2"), types.BUY, types.PositionLong); err != nil {
		t.Fatal(err)
	}
	if _, err := c.PlaceOrder(ctx, "b", "ETHUSDT", dec("1"), types.SELL, types.PositionLong); err != nil {
		t.Fatal(err)
	}

	acc, _ := c.GetAccountInfo(ctx)
	var pos *types.AccountPosition
	for i := range acc.Positions {
		if acc.Positions[i].Symbol == "ETHUSDT" && acc.Positions[i].Side == types.PositionLong {
			pos = &acc.Positions[i]
		}
	}
	if pos == nil {
		t.Fatal("no ETHUSDT LONG position")
	}
	if !pos.Quantity.Equal(dec("1")) {
		t.Errorf("quantity = %s, want 1", pos.Quantity)
	}
	if !pos.EntryPrice.Equal(dec("100")) {
		t.Errorf("entry = %s, want 100", pos.EntryPrice)
	}
}
