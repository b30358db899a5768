// Package backend is the REST client for the support backend.
//
// Reads:
//
//	GET /api/conversations/                 conversations
//	GET /api/users/?provedor=me             agents with names and presence
//	GET /api/users/status/                  {"users": [...]} presence for the tenant
//	GET /api/teams/                         teams with ordered members
//	GET /api/conversations/{id}/messages/   message history
//
// List endpoints may answer with a bare array or a paginated
// {"results": [...], "next": "..."} envelope; both are accepted and "next"
// links are followed.
//
// Writes:
//
//	POST   /api/conversations/{id}/transfer/   {"user_id": N}
//	DELETE /api/conversations/{id}/
//
// Every request carries "Authorization: <scheme> <token>". Non-2xx answers
// become *StatusError; a 404 also matches ErrNotFound.
package backend
