// ABOUTME: Immutable point-in-time view of the conversation store
// ABOUTME: Accessors hand out deep copies so consumers cannot mutate shared state

package store

import (
	"github.com/2389/handoff-console/internal/model"
)

// Snapshot is the store content at one revision, ordered by conversation id.
type Snapshot struct {
	revision uint64
	convs    []model.Conversation
	index    map[int64]int
}

// Revision is the store revision this snapshot was taken at.
func (s Snapshot) Revision() uint64 { return s.revision }

// Len returns the number of stored conversations, excluded ones included.
func (s Snapshot) Len() int { return len(s.convs) }

// All returns a copy of every conversation ordered by id.
func (s Snapshot) All() []model.Conversation {
	out := make([]model.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

// Get returns a copy of the conversation with the given id.
func (s Snapshot) Get(id int64) (model.Conversation, bool) {
	i, ok := s.index[id]
	if !ok {
		return model.Conversation{}, false
	}
	return s.convs[i].Clone(), true
}

// IDs returns the stored ids in ascending order.
func (s Snapshot) IDs() []int64 {
	out := make([]int64, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.ID
	}
	return out
}
