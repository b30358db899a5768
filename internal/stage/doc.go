// Package stage classifies conversations into the console's three stages.
//
// Every conversation visible to an operator belongs to at most one stage:
//
//   - AI: handled by automation (snoozed, unassigned, or assigned to an
//     automation identity)
//   - Waiting: queued for a human agent (pending)
//   - Agent: attended by a human agent (open with a human assignee)
//
// Closed conversations, and anything that matches none of the rules (for
// example resolved), are Excluded. Classify is pure and cheap; callers
// re-run it on every snapshot instead of caching stage tags.
//
// Summarize and FilterList derive the dashboard board and the conversation
// list tabs from a snapshot, always recomputed from scratch.
package stage
