// ABOUTME: Presence tracker mapping agent ids to online state with a name directory
// ABOUTME: Updates replace the online set wholesale and notify subscribers

package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/handoff-console/internal/model"
)

// Tracker holds the latest presence view. It is safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	online      map[int64]bool
	lastSeen    map[int64]time.Time
	directory   map[int64]model.Agent
	generation  uint64
	subscribers map[string]chan struct{}
	closed      bool
	logger      *slog.Logger
}

// New creates an empty tracker. Pass nil logger for default.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		online:      make(map[int64]bool),
		lastSeen:    make(map[int64]time.Time),
		directory:   make(map[int64]model.Agent),
		subscribers: make(map[string]chan struct{}),
		logger:      logger.With("component", "presence"),
	}
}

// Update replaces the online set with the agents marked online in agents.
// Entries carrying names also refresh the directory.
func (t *Tracker) Update(agents []model.Agent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	online := make(map[int64]bool, len(agents))
	for _, a := range agents {
		if a.IsOnline {
			online[a.ID] = true
		}
		if a.LastSeen != nil {
			t.lastSeen[a.ID] = *a.LastSeen
		}
		if a.HasProfile() {
			entry := a
			entry.IsOnline = false
			entry.LastSeen = nil
			t.directory[a.ID] = entry
		}
	}

	before := len(t.online)
	t.online = online
	t.generation++

	t.logger.Debug("presence updated",
		"agents", len(agents),
		"online_before", before,
		"online_after", len(online),
		"generation", t.generation)

	t.notifyLocked()
}

// IsOnline reports whether the agent was online in the latest update.
// Unknown ids are offline.
func (t *Tracker) IsOnline(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[id]
}

// Online returns the online agents ordered by id. Agents the directory
// does not know are returned with only id set.
func (t *Tracker) Online() []model.Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Agent, 0, len(t.online))
	for id := range t.online {
		out = append(out, t.annotateLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Agents returns every agent in the directory annotated with presence,
// online agents first, then by display name.
func (t *Tracker) Agents() []model.Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Agent, 0, len(t.directory))
	for id := range t.directory {
		out = append(out, t.annotateLocked(id))
	}
	SortForPicker(out)
	return out
}

// Agent returns one directory entry annotated with presence.
func (t *Tracker) Agent(id int64) (model.Agent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.directory[id]; !ok {
		return model.Agent{}, false
	}
	return t.annotateLocked(id), true
}

// Generation increments on every Update.
func (t *Tracker) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

func (t *Tracker) annotateLocked(id int64) model.Agent {
	a, ok := t.directory[id]
	if !ok {
		a = model.Agent{ID: id}
	}
	a.IsOnline = t.online[id]
	if ts, ok := t.lastSeen[id]; ok {
		a.LastSeen = &ts
	}
	return a
}

// SortForPicker orders agents online first, then by display name, then id.
func SortForPicker(agents []model.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i], agents[j]
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		if an, bn := a.DisplayName(), b.DisplayName(); an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}

// Subscribe registers for update notifications. The subscription ends when
// ctx is cancelled or Unsubscribe is called.
func (t *Tracker) Subscribe(ctx context.Context) (<-chan struct{}, string) {
	subID := uuid.New().String()
	ch := make(chan struct{}, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, subID
	}
	t.subscribers[subID] = ch
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (t *Tracker) Unsubscribe(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subscribers[subID]; ok {
		delete(t.subscribers, subID)
		close(ch)
	}
}

// Close ends every subscription.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.closed = true
}

func (t *Tracker) notifyLocked() {
	for _, ch := range t.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// A notification is already pending.
		}
	}
}
