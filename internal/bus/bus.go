// Package bus implements the AMQP pub/sub layer connecting the feed
// publisher to its consumers (feed logger, trading bot).
//
// All traffic goes through a single non-durable topic exchange. Routing
// keys are "alive", "reset" and "{symbol}.{entity}". Message bodies are
// JSON envelopes {action, payload}; consumers ack after their callbacks
// return so a crash mid-handling redelivers.
package bus

import (
	"fmt"

	"github.com/goccy/go-json"

	"futures-bot/pkg/types"
)

// Exchange is the topic exchange all feed traffic flows through.
const Exchange = "pubsub_line"

// Routing keys for the non-entity messages.
const (
	KeyAlive = "alive"
	KeyReset = "reset"
)

// Envelope actions.
const (
	ActionAlive  = "alive"
	ActionReset  = "reset"
	ActionUpdate = "update"
)

// Message is the wire envelope.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// UpdatePayload carries one feed entity update.
type UpdatePayload struct {
	Entity types.StreamEntity `json:"entity"`
	Symbol types.Symbol       `json:"symbol"`
	Data   json.RawMessage    `json:"data"`
}

// UpdateKey builds the routing key for a symbol's entity updates.
// Symbols are lowercased on the wire by convention of the upstream feed,
// but keys bind verbatim, so both sides use the symbol as configured.
func UpdateKey(symbol types.Symbol, entity types.StreamEntity) string {
	return fmt.Sprintf("%s.%s", symbol, entity)
}

// Encode builds an envelope body.
func Encode(action string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	body, err := json.Marshal(Message{Action: action, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}

// Decode parses an envelope body.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("envelope without action")
	}
	return &msg, nil
}
