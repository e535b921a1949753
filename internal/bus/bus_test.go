package bus

import (
	"testing"

	"github.com/goccy/go-json"

	"futures-bot/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	data, _ := json.Marshal(types.BookUpdate{})
	body, err := Encode(ActionUpdate, UpdatePayload{
		Entity: types.EntityBook,
		Symbol: "BTCUSDT",
		Data:   data,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Action != ActionUpdate {
		t.Errorf("action = %q", msg.Action)
	}

	var p UpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Entity != types.EntityBook || p.Symbol != "BTCUSDT" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeRejectsMissingAction(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Error("want error for envelope without action")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("want error for malformed body")
	}
}

func TestUpdateKey(t *testing.T) {
	t.Parallel()

	if got := UpdateKey("BTCUSDT", types.EntityTrade); got != "BTCUSDT.trade" {
		t.Errorf("UpdateKey = %q", got)
	}
}
