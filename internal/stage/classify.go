// ABOUTME: Pure classifier mapping a conversation to its AI/Waiting/Agent stage
// ABOUTME: Holds the single automation-identity predicate used everywhere

package stage

import (
	"strings"

	"github.com/2389/handoff-console/internal/model"
)

// Stage is the derived classification of a conversation.
type Stage int

const (
	// Excluded conversations are stored but appear in no stage view.
	Excluded Stage = iota
	AI
	Waiting
	Agent
)

// All lists the visible stages in dashboard order.
var All = []Stage{AI, Waiting, Agent}

func (s Stage) String() string {
	switch s {
	case AI:
		return "ai"
	case Waiting:
		return "waiting"
	case Agent:
		return "agent"
	default:
		return "excluded"
	}
}

// Parse maps a stage name back to a Stage. Unknown names yield Excluded and false.
func Parse(name string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ai", "ia":
		return AI, true
	case "waiting", "pending", "queue":
		return Waiting, true
	case "agent", "open":
		return Agent, true
	}
	return Excluded, false
}

// automationMarker is matched case-insensitively as a substring of the
// assignee's first name or username. A human named "Maria" matches too.
const automationMarker = "ia"

// IsAutomationIdentity reports whether a is the automation account rather
// than a human operator.
func IsAutomationIdentity(a *model.Agent) bool {
	if a == nil {
		return false
	}
	return strings.Contains(strings.ToLower(a.FirstName), automationMarker) ||
		strings.Contains(strings.ToLower(a.Username), automationMarker)
}

// Classify returns the stage of c. Rules apply in order; the first match wins.
func Classify(c model.Conversation) Stage {
	if c.Status == model.StatusClosed {
		return Excluded
	}
	if c.Status == model.StatusSnoozed || c.Assignee == nil || IsAutomationIdentity(c.Assignee) {
		return AI
	}
	if c.Status == model.StatusPending {
		return Waiting
	}
	if c.Status == model.StatusOpen {
		return Agent
	}
	return Excluded
}

// IsAI reports whether c is in the AI stage.
func IsAI(c model.Conversation) bool { return Classify(c) == AI }

// IsWaiting reports whether c is in the Waiting stage.
func IsWaiting(c model.Conversation) bool { return Classify(c) == Waiting }

// IsAgent reports whether c is in the Agent stage.
func IsAgent(c model.Conversation) bool { return Classify(c) == Agent }
