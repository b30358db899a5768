// Package model defines the entities exchanged with the support backend.
//
// # Entities
//
//   - Conversation: a customer conversation with a server-assigned Status,
//     an optional assignee and opaque display payloads.
//   - Agent: an operator (human or automation identity) with presence.
//   - Team: a named, ordered list of members that can receive transfers.
//   - Message: one entry of a conversation's message feed.
//
// # Wire Format
//
// Field names follow the backend serializers (snake_case JSON). Display
// payloads the engine never interprets (contact, inbox, last message,
// additional attributes) are kept as json.RawMessage so they round-trip
// untouched; small accessors such as ContactName read what the console needs.
//
// Entities are plain values. Conversation.Clone returns a copy that shares no
// mutable state with the original, which is what the store hands out in
// snapshots.
package model
