// ABOUTME: Derives the per-stage dashboard board and list tabs from a snapshot
// ABOUTME: Always recomputed from scratch through Classify, never incrementally

package stage

import (
	"sort"
	"strings"

	"github.com/2389/handoff-console/internal/model"
)

// Counts holds the number of conversations per visible stage.
type Counts struct {
	AI      int `json:"ai"`
	Waiting int `json:"waiting"`
	Agent   int `json:"agent"`
}

// Board is the dashboard view: one ordered column per stage.
type Board struct {
	AI      []model.Conversation
	Waiting []model.Conversation
	Agent   []model.Conversation
}

// Counts returns the column sizes.
func (b Board) Counts() Counts {
	return Counts{AI: len(b.AI), Waiting: len(b.Waiting), Agent: len(b.Agent)}
}

// Column returns the conversations of one stage. Excluded yields nil.
func (b Board) Column(s Stage) []model.Conversation {
	switch s {
	case AI:
		return b.AI
	case Waiting:
		return b.Waiting
	case Agent:
		return b.Agent
	}
	return nil
}

// Summarize classifies every conversation and builds the board. Columns are
// ordered by most recent activity first.
func Summarize(convs []model.Conversation) Board {
	var b Board
	for _, c := range convs {
		switch Classify(c) {
		case AI:
			b.AI = append(b.AI, c)
		case Waiting:
			b.Waiting = append(b.Waiting, c)
		case Agent:
			b.Agent = append(b.Agent, c)
		}
	}
	SortByRecency(b.AI)
	SortByRecency(b.Waiting)
	SortByRecency(b.Agent)
	return b
}

// SortByRecency orders conversations newest first, breaking ties on
// created_at and then id so the order is deterministic.
func SortByRecency(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ri, rj := convs[i].Recency(), convs[j].Recency()
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.After(convs[j].CreatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
}

// Tab selects one conversation list tab.
type Tab string

const (
	TabMine       Tab = "mine"
	TabUnassigned Tab = "unassigned"
	TabAI         Tab = "ai"
)

// ListFilter narrows the conversation list.
type ListFilter struct {
	Tab    Tab
	Search string
	// Me is the signed-in agent. Zero means "any assignee" for TabMine.
	Me int64
}

// FilterList returns the non-closed conversations matching f, newest first.
func FilterList(convs []model.Conversation, f ListFilter) []model.Conversation {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []model.Conversation
	for _, c := range convs {
		if c.Status == model.StatusClosed {
			continue
		}
		if !matchesTab(c, f.Tab, f.Me) || !matchesSearch(c, search) {
			continue
		}
		out = append(out, c)
	}
	SortByRecency(out)
	return out
}

// TabCounts returns the badge count of every tab, ignoring search.
func TabCounts(convs []model.Conversation, me int64) map[Tab]int {
	counts := map[Tab]int{TabMine: 0, TabUnassigned: 0, TabAI: 0}
	for _, c := range convs {
		if c.Status == model.StatusClosed {
			continue
		}
		for tab := range counts {
			if matchesTab(c, tab, me) {
				counts[tab]++
			}
		}
	}
	return counts
}

func matchesTab(c model.Conversation, tab Tab, me int64) bool {
	switch tab {
	case TabMine:
		if c.Assignee == nil {
			return false
		}
		return me == 0 || c.Assignee.ID == me
	case TabUnassigned:
		return c.Assignee == nil
	case TabAI:
		return Classify(c) == AI || c.AIAssisted()
	}
	return true
}

func matchesSearch(c model.Conversation, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.ContactName()), search) ||
		strings.Contains(strings.ToLower(c.LastMessageContent()), search)
}
