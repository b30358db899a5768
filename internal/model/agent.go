// ABOUTME: Agent and Team entities used by presence tracking and hand-off
// ABOUTME: Agents come from the users endpoint; teams embed their ordered members

package model

import (
	"fmt"
	"strings"
	"time"
)

// Agent is an operator account. Automation identities are agents too.
type Agent struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// DisplayName returns "First Last", falling back to the username and then the id.
func (a Agent) DisplayName() string {
	if name := strings.TrimSpace(a.FirstName + " " + a.LastName); name != "" {
		return name
	}
	if a.Username != "" {
		return a.Username
	}
	return fmt.Sprintf("agent-%d", a.ID)
}

// HasProfile reports whether a carries any naming fields. Presence frames
// only carry id and is_online.
func (a Agent) HasProfile() bool {
	return a.Username != "" || a.FirstName != "" || a.LastName != ""
}

// TeamMember links a team to an agent. User may be nil when the backend
// could not resolve the account.
type TeamMember struct {
	ID   int64  `json:"id"`
	User *Agent `json:"user"`
	Role string `json:"role,omitempty"`
}

// Team is a named group of agents in stored member order.
type Team struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Members  []TeamMember `json:"members"`
	IsActive bool         `json:"is_active"`
}

// Ref returns the lightweight reference embedded in conversations.
func (t Team) Ref() TeamRef {
	return TeamRef{ID: t.ID, Name: t.Name}
}
