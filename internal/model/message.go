// ABOUTME: Message entity delivered by a conversation's message feed
// ABOUTME: Only identity, ordering and text are interpreted; the rest stays opaque

package model

import (
	"encoding/json"
	"time"
)

// Message is one entry in a conversation's message history.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation"`
	Content        string          `json:"content"`
	MessageType    string          `json:"message_type,omitempty"`
	IsFromCustomer bool            `json:"is_from_customer"`
	CreatedAt      time.Time       `json:"created_at"`
	Attributes     json.RawMessage `json:"additional_attributes,omitempty"`
}
