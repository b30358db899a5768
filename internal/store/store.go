// ABOUTME: Authoritative in-memory conversation store with last-write-wins upserts
// ABOUTME: Publishes immutable snapshots to subscribers on every change

package store

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/handoff-console/internal/model"
)

type entry struct {
	conv model.Conversation
	rev  uint64
}

// Store is the shared conversation collection. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	entries     map[int64]entry
	removed     map[int64]uint64 // id -> revision of the deletion
	rev         uint64
	snap        Snapshot
	subscribers map[string]chan Snapshot
	closed      bool
	logger      *slog.Logger
}

// New creates an empty store. Pass nil logger for default.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		entries:     make(map[int64]entry),
		removed:     make(map[int64]uint64),
		subscribers: make(map[string]chan Snapshot),
		logger:      logger.With("component", "store"),
	}
	s.snap = s.buildSnapshotLocked()
	return s
}

// Apply upserts c. It returns false when c was ignored: the stored copy is
// newer, the content is unchanged, or the id was deleted.
func (s *Store) Apply(c model.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.removed[c.ID]; gone {
		s.logger.Debug("ignoring update for deleted conversation", "conversation_id", c.ID)
		return false
	}
	if cur, ok := s.entries[c.ID]; ok {
		if cur.conv.NewerThan(c) {
			s.logger.Debug("ignoring stale conversation update",
				"conversation_id", c.ID,
				"stored_updated_at", cur.conv.UpdatedAt,
				"incoming_updated_at", c.UpdatedAt)
			return false
		}
		if reflect.DeepEqual(cur.conv, c) {
			return false
		}
	}

	s.rev++
	s.entries[c.ID] = entry{conv: c.Clone(), rev: s.rev}
	s.publishLocked()
	return true
}

// Remove deletes the conversation with the given id and tombstones it.
// It returns false when the id was not stored.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.entries[id]
	s.rev++
	s.removed[id] = s.rev
	if !existed {
		return false
	}
	delete(s.entries, id)
	s.publishLocked()
	return true
}

// ReplaceAll atomically swaps the whole collection. Subscribers observe
// either the previous or the new collection, never an empty intermediate.
func (s *Store) ReplaceAll(convs []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(convs, s.rev)
}

// Reconcile swaps the collection with the result of a fetch that started
// at revision since. Conversations applied or removed after since win over
// the fetched copies unless the fetched copy is strictly newer.
func (s *Store) Reconcile(convs []model.Conversation, since uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(convs, since)
}

func (s *Store) reconcileLocked(convs []model.Conversation, since uint64) {
	s.rev++
	next := make(map[int64]entry, len(convs))
	kept := 0

	for _, c := range convs {
		if tomb, ok := s.removed[c.ID]; ok && tomb > since {
			continue
		}
		if cur, ok := s.entries[c.ID]; ok && cur.rev > since && !c.NewerThan(cur.conv) {
			next[c.ID] = cur
			kept++
			continue
		}
		next[c.ID] = entry{conv: c.Clone(), rev: s.rev}
	}
	for id, cur := range s.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if cur.rev > since {
			next[id] = cur
			kept++
		}
	}
	for id, tomb := range s.removed {
		if tomb <= since {
			delete(s.removed, id)
		}
	}

	s.entries = next
	s.logger.Debug("store reconciled",
		"fetched", len(convs),
		"kept_live", kept,
		"total", len(next),
		"revision", s.rev)
	s.publishLocked()
}

// Revision returns the current store revision. Capture it before starting
// a refetch and pass it to Reconcile.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Get returns a copy of one stored conversation.
func (s *Store) Get(id int64) (model.Conversation, bool) {
	return s.Snapshot().Get(id)
}

// Subscribe registers for snapshot changes. The returned channel receives the
// current snapshot immediately and the latest snapshot after each change.
// The subscription ends when ctx is cancelled or Unsubscribe is called.
func (s *Store) Subscribe(ctx context.Context) (<-chan Snapshot, string) {
	subID := uuid.New().String()
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, subID
	}
	s.subscribers[subID] = ch
	ch <- s.snap
	s.mu.Unlock()

	s.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		s.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subscribers[subID]
	if !ok {
		return
	}
	delete(s.subscribers, subID)
	close(ch)
	s.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close ends every subscription. The store stays readable and writable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.closed = true
}

// publishLocked rebuilds the snapshot and hands it to every subscriber,
// replacing any snapshot the subscriber has not consumed yet.
func (s *Store) publishLocked() {
	s.snap = s.buildSnapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snap:
		default:
		}
	}
}

func (s *Store) buildSnapshotLocked() Snapshot {
	convs := make([]model.Conversation, 0, len(s.entries))
	for _, e := range s.entries {
		convs = append(convs, e.conv)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })

	index := make(map[int64]int, len(convs))
	for i, c := range convs {
		index[c.ID] = i
	}
	return Snapshot{revision: s.rev, convs: convs, index: index}
}
