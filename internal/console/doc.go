// Package console is the application context of one operator session.
//
// A Session is built once with explicit dependencies (REST backend, push
// server URL, operator id, optional selection persistence) and owns every
// engine component for its lifetime:
//
//	store.Store          conversations of the tenant view
//	presence.Tracker     who is online
//	channel.Manager      dashboard, presence and detail feeds
//	handoff.Coordinator  transfers and end of attendance
//
// Start restores the saved selection, opens the dashboard and presence
// feeds and runs the initial fetch (conversations, agents, teams) in
// parallel. Each feed's reconnect hook refetches its collection, so a
// dropped connection converges back to server state.
//
// OpenConversation opens the detail view of one conversation with its own
// message feed; opening another conversation or calling CloseConversation
// closes it. Loading flags are tracked per fetch rather than globally.
//
// Close tears everything down. Responses still in flight are discarded and
// nothing mutates shared state after Close returns. SignOut also forgets the
// saved selection.
package console
