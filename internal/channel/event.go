// ABOUTME: Push frame parsing into typed channel events
// ABOUTME: Accepts both dashboard wire forms and rejects frames missing their entity

package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/2389/handoff-console/internal/dedupe"
	"github.com/2389/handoff-console/internal/model"
)

// ErrMalformedEvent indicates a frame that could not be parsed into an Event.
var ErrMalformedEvent = errors.New("malformed event")

// Kind identifies the event variant.
type Kind string

const (
	KindConversationUpdated Kind = "conversation_updated"
	KindUserStatusUpdate    Kind = "user_status_update"
	KindNewMessage          Kind = "new_message"
)

// The dashboard feed announces conversation changes with an action field.
const actionUpdateConversation = "update_conversation"

// Event is one parsed push frame. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind         Kind
	Conversation *model.Conversation
	Users        []model.Agent
	Message      *model.Message

	// digest of the raw entity payload
	digest uint64
}

// Key returns the dedupe key for the event, or "" for presence events. The
// key covers the whole entity payload, so a rebroadcast with any changed
// field gets a new key even when its timestamps are unchanged.
func (e Event) Key() string {
	switch e.Kind {
	case KindConversationUpdated:
		return dedupe.FrameKey("conversation", e.Conversation.ID, e.digest)
	case KindNewMessage:
		return dedupe.FrameKey("message", e.Message.ID, e.digest)
	}
	return ""
}

type wireFrame struct {
	Type         string          `json:"type"`
	Action       string          `json:"action"`
	Conversation json.RawMessage `json:"conversation"`
	Users        json.RawMessage `json:"users"`
	Message      json.RawMessage `json:"message"`
}

// ParseEvent decodes a raw frame. Errors wrap ErrMalformedEvent.
func ParseEvent(data []byte) (Event, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case f.Action == actionUpdateConversation || f.Type == string(KindConversationUpdated):
		var c model.Conversation
		if err := decodeEntity(f.Conversation, &c); err != nil {
			return Event{}, fmt.Errorf("%w: conversation: %v", ErrMalformedEvent, err)
		}
		if c.ID == 0 {
			return Event{}, fmt.Errorf("%w: conversation without id", ErrMalformedEvent)
		}
		return Event{Kind: KindConversationUpdated, Conversation: &c, digest: xxhash.Sum64(f.Conversation)}, nil

	case f.Type == string(KindUserStatusUpdate):
		var users []model.Agent
		if err := decodeEntity(f.Users, &users); err != nil {
			return Event{}, fmt.Errorf("%w: users: %v", ErrMalformedEvent, err)
		}
		return Event{Kind: KindUserStatusUpdate, Users: users}, nil

	case f.Type == string(KindNewMessage):
		var m model.Message
		if err := decodeEntity(f.Message, &m); err != nil {
			return Event{}, fmt.Errorf("%w: message: %v", ErrMalformedEvent, err)
		}
		if m.ID == 0 {
			return Event{}, fmt.Errorf("%w: message without id", ErrMalformedEvent)
		}
		return Event{Kind: KindNewMessage, Message: &m, digest: xxhash.Sum64(f.Message)}, nil
	}

	return Event{}, fmt.Errorf("%w: unknown type %q action %q", ErrMalformedEvent, f.Type, f.Action)
}

func decodeEntity(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing")
	}
	return json.Unmarshal(raw, v)
}
