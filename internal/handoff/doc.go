// Package handoff moves conversation ownership on behalf of the operator.
//
// There is no optimistic mutation. A transfer only changes the store when
// the backend answers with the updated conversation; an acknowledgement
// without a body leaves the store to the dashboard feed, whose event
// arrives shortly after. Whichever arrives first wins and both converge,
// since the store applies full entities with last-write-wins.
//
// Team transfers resolve the team from a cache filled by SetTeams or fetched
// on demand, then delegate to the first member in stored order. Presence is
// not consulted when picking the member.
//
// Close cancels in-flight requests. A response that still arrives is
// discarded under the coordinator lock, so nothing mutates the store after
// Close returns.
package handoff
