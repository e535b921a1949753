package storage

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"futures-bot/pkg/types"
)

func TestDecimalCodecRoundtrip(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	order := types.Order{
		ID:       1,
		Symbol:   "BTCUSDT",
		Quantity: decimal.RequireFromString("0.001"),
		Price:    decimal.RequireFromString("30000.10"),
	}

	data, err := bson.MarshalWithRegistry(reg, order)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// decimals must land as strings, not doubles
	var raw bson.M
	if err := bson.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if s, ok := raw["price"].(string); !ok || s != "30000.10" {
		t.Errorf("price stored as %T %v, want string 30000.10", raw["price"], raw["price"])
	}

	var got types.Order
	if err := bson.UnmarshalWithRegistry(reg, data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Quantity.Equal(order.Quantity) || !got.Price.Equal(order.Price) {
		t.Errorf("roundtrip = %s @ %s", got.Quantity, got.Price)
	}
}

func TestDecimalCodecNumericFallback(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	data, err := bson.Marshal(bson.M{"quantity": 1.5, "price": int64(30000)})
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Quantity decimal.Decimal `bson:"quantity"`
		Price    decimal.Decimal `bson:"price"`
	}
	if err := bson.UnmarshalWithRegistry(reg, data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Quantity.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("quantity = %s", got.Quantity)
	}
	if !got.Price.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("price = %s", got.Price)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not primary", mongo.CommandError{Code: 10107}, true},
		{"shutdown", mongo.CommandError{Code: 91}, true},
		{"retryable label", mongo.CommandError{Labels: []string{"RetryableWriteError"}}, true},
		{"duplicate key", mongo.CommandError{Code: 11000}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Errorf("%s: isTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTimeFilter(t *testing.T) {
	t.Parallel()

	if f := timeFilter(0, 0); len(f) != 0 {
		t.Errorf("open filter = %v", f)
	}
	f := timeFilter(100, 200)
	rng, ok := f["t"].(bson.M)
	if !ok || rng["$gte"] != types.Timestamp(100) || rng["$lte"] != types.Timestamp(200) {
		t.Errorf("filter = %v", f)
	}
}

func TestIndexModels(t *testing.T) {
	t.Parallel()

	models := indexModels()
	if len(models[collOrders]) != 3 {
		t.Errorf("order indexes = %d", len(models[collOrders]))
	}
	if len(models[collPositions]) != 2 {
		t.Errorf("position indexes = %d", len(models[collPositions]))
	}
	if len(models[collUpdateLog]) != 1 {
		t.Errorf("update log indexes = %d", len(models[collUpdateLog]))
	}
}
