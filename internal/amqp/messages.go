package amqp

import (
	"encoding/json"
	"time"
)

// ExpenseCreatedMessage announces a first-time insertion. It carries only
// the record id and key; consumers fetch the full record from the store.
// Replays never produce a message, so consumers see each expense once.
type ExpenseCreatedMessage struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewExpenseCreatedMessage stamps a message for the given record.
func NewExpenseCreatedMessage(id int64, key string) *ExpenseCreatedMessage {
	return &ExpenseCreatedMessage{
		ID:             id,
		IdempotencyKey: key,
		Timestamp:      time.Now(),
	}
}

// ToJSON serializes the message for publishing.
func (m *ExpenseCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseCreatedMessageFromJSON deserializes a consumed message body.
func ExpenseCreatedMessageFromJSON(data []byte) (*ExpenseCreatedMessage, error) {
	var msg ExpenseCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
