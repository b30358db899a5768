// ABOUTME: Conversation entity as delivered by the REST API and push feeds
// ABOUTME: Keeps display payloads opaque and exposes the fields the engine reasons about

package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the server-assigned lifecycle state of a conversation.
type Status string

const (
	StatusSnoozed  Status = "snoozed"
	StatusPending  Status = "pending"
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is one of the statuses the backend emits.
func (s Status) Valid() bool {
	switch s {
	case StatusSnoozed, StatusPending, StatusOpen, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// TeamRef is the lightweight team reference embedded in a conversation.
type TeamRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Conversation is a single customer conversation.
type Conversation struct {
	ID            int64      `json:"id"`
	Status        Status     `json:"status"`
	Assignee      *Agent     `json:"assignee"`
	Team          *TeamRef   `json:"team,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	Contact              json.RawMessage `json:"contact,omitempty"`
	Inbox                json.RawMessage `json:"inbox,omitempty"`
	LastMessage          json.RawMessage `json:"last_message,omitempty"`
	AdditionalAttributes json.RawMessage `json:"additional_attributes,omitempty"`
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Assignee != nil {
		a := *c.Assignee
		out.Assignee = &a
	}
	if c.Team != nil {
		t := *c.Team
		out.Team = &t
	}
	if c.LastMessageAt != nil {
		ts := *c.LastMessageAt
		out.LastMessageAt = &ts
	}
	out.Contact = cloneRaw(c.Contact)
	out.Inbox = cloneRaw(c.Inbox)
	out.LastMessage = cloneRaw(c.LastMessage)
	out.AdditionalAttributes = cloneRaw(c.AdditionalAttributes)
	return out
}

// Recency is the timestamp used for "last activity" display and ordering:
// updated_at when present, then last_message_at, then created_at.
func (c Conversation) Recency() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	if c.LastMessageAt != nil && !c.LastMessageAt.IsZero() {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// NewerThan reports whether c carries a strictly later updated_at than other.
// Conversations without updated_at never compare as newer or older.
func (c Conversation) NewerThan(other Conversation) bool {
	if c.UpdatedAt.IsZero() || other.UpdatedAt.IsZero() {
		return false
	}
	return c.UpdatedAt.After(other.UpdatedAt)
}

type contactPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ContactName returns the contact's display name, or "" when absent.
func (c Conversation) ContactName() string {
	var p contactPayload
	if !decodeRaw(c.Contact, &p) {
		return ""
	}
	return p.Name
}

// ContactPhone returns the contact's phone with any "@..." channel suffix removed.
func (c Conversation) ContactPhone() string {
	var p contactPayload
	if !decodeRaw(c.Contact, &p) {
		return ""
	}
	phone, _, _ := strings.Cut(p.Phone, "@")
	return phone
}

// LastMessageContent returns the text of the last message, or "" when absent.
func (c Conversation) LastMessageContent() string {
	var p struct {
		Content string `json:"content"`
	}
	if !decodeRaw(c.LastMessage, &p) {
		return ""
	}
	return p.Content
}

// AIAssisted reports whether additional_attributes.ai_assisted is set.
func (c Conversation) AIAssisted() bool {
	var p struct {
		AIAssisted bool `json:"ai_assisted"`
	}
	if !decodeRaw(c.AdditionalAttributes, &p) {
		return false
	}
	return p.AIAssisted
}

func decodeRaw(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
