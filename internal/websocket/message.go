package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeBalanceUpdate MessageType = "balance_update"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// BalanceUpdatePayload is pushed to every session of an account after
// the server commits a credit change. The balance is the confirmed
// server-side value; clients replace, never add.
type BalanceUpdatePayload struct {
	Balance        int64 `json:"balance"`
	CreditsAwarded int64 `json:"credits_awarded"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
