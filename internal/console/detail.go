// ABOUTME: Per-conversation detail view holding the message history of one conversation
// ABOUTME: Merges fetched and pushed messages by id and stops accepting them once closed

package console

import (
	"sort"
	"sync"

	"github.com/2389/handoff-console/internal/model"
)

// Detail is the open conversation's message view.
type Detail struct {
	conversationID int64

	mu       sync.Mutex
	messages []model.Message
	index    map[int64]int
	closed   bool
	updates  chan struct{}
}

func newDetail(conversationID int64) *Detail {
	return &Detail{
		conversationID: conversationID,
		index:          make(map[int64]int),
		updates:        make(chan struct{}, 1),
	}
}

// ConversationID returns the conversation this view shows.
func (d *Detail) ConversationID() int64 { return d.conversationID }

// Messages returns the history ordered by creation time, then id.
func (d *Detail) Messages() []model.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Message(nil), d.messages...)
}

// Updates receives a notification whenever messages change. It is closed
// when the view closes.
func (d *Detail) Updates() <-chan struct{} { return d.updates }

// Closed reports whether the view was closed.
func (d *Detail) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// merge upserts msgs by id. Messages for other conversations and anything
// arriving after close are dropped. It reports whether the view changed.
func (d *Detail) merge(msgs ...model.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	changed := false
	for _, m := range msgs {
		if m.ConversationID != 0 && m.ConversationID != d.conversationID {
			continue
		}
		if i, ok := d.index[m.ID]; ok {
			d.messages[i] = m
		} else {
			d.index[m.ID] = len(d.messages)
			d.messages = append(d.messages, m)
		}
		changed = true
	}
	if !changed {
		return false
	}
	d.reindexLocked()

	select {
	case d.updates <- struct{}{}:
	default:
	}
	return true
}

func (d *Detail) reindexLocked() {
	sort.SliceStable(d.messages, func(i, j int) bool {
		a, b := d.messages[i], d.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for i, m := range d.messages {
		d.index[m.ID] = i
	}
}

func (d *Detail) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.updates)
}
