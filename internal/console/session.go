// ABOUTME: Application-scoped console session wiring backend, store, presence, channels and hand-off
// ABOUTME: Owns the initial load, push feed lifecycle, detail view, persisted selection and teardown

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/handoff-console/internal/channel"
	"github.com/2389/handoff-console/internal/handoff"
	"github.com/2389/handoff-console/internal/model"
	"github.com/2389/handoff-console/internal/presence"
	"github.com/2389/handoff-console/internal/session"
	"github.com/2389/handoff-console/internal/stage"
	"github.com/2389/handoff-console/internal/store"
)

// ErrSessionClosed indicates the session was torn down.
var ErrSessionClosed = errors.New("session closed")

// Backend is the REST surface the session uses.
type Backend interface {
	handoff.Backend
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListUserStatus(ctx context.Context) ([]model.Agent, error)
	ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
	AuthHeader() http.Header
}

// SelectionStore persists the operator's selection.
type SelectionStore interface {
	Load(ctx context.Context, operatorID int64) (session.Selection, error)
	Save(ctx context.Context, sel session.Selection) error
	Clear(ctx context.Context, operatorID int64) error
}

// Loading reports which fetches are in flight.
type Loading struct {
	Users    bool
	Teams    bool
	Messages bool
}

// Options configure a Session.
type Options struct {
	Backend Backend
	// WSURL is the push server base (ws, wss, http or https).
	WSURL string
	// OperatorID is the signed-in agent.
	OperatorID int64
	// Selections is optional; without it nothing is persisted.
	Selections SelectionStore
	Channels   channel.Options
	Logger     *slog.Logger
}

// Session is the console's application context.
type Session struct {
	backend    Backend
	wsURL      string
	operatorID int64
	selections SelectionStore

	store    *store.Store
	presence *presence.Tracker
	channels *channel.Manager
	handoff  *handoff.Coordinator

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	loading   Loading
	selection session.Selection
	detail    *Detail
	closed    bool

	logger *slog.Logger
}

// New builds a session. Call Start to load data and open the feeds.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chOpts := opts.Channels
	if chOpts.Logger == nil {
		chOpts.Logger = logger
	}

	st := store.New(logger)
	tr := presence.New(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		backend:    opts.Backend,
		wsURL:      opts.WSURL,
		operatorID: opts.OperatorID,
		selections: opts.Selections,
		store:      st,
		presence:   tr,
		channels:   channel.NewManager(chOpts),
		handoff:    handoff.New(opts.Backend, st, tr, logger),
		ctx:        ctx,
		cancel:     cancel,
		selection:  session.Selection{OperatorID: opts.OperatorID},
		logger:     logger.With("component", "console"),
	}
}

// Store returns the conversation store.
func (s *Session) Store() *store.Store { return s.store }

// Presence returns the presence tracker.
func (s *Session) Presence() *presence.Tracker { return s.presence }

// Handoff returns the hand-off coordinator.
func (s *Session) Handoff() *handoff.Coordinator { return s.handoff }

// Channels returns the push channel manager.
func (s *Session) Channels() *channel.Manager { return s.channels }

// OperatorID returns the signed-in agent.
func (s *Session) OperatorID() int64 { return s.operatorID }

// Loading returns the current loading flags.
func (s *Session) Loading() Loading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Selection returns the current selection.
func (s *Session) Selection() session.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Board classifies the current snapshot into dashboard columns.
func (s *Session) Board() stage.Board {
	return stage.Summarize(s.store.Snapshot().All())
}

// List applies the conversation-list tab and search to the current snapshot.
// Me defaults to the operator.
func (s *Session) List(f stage.ListFilter) []model.Conversation {
	if f.Me == 0 {
		f.Me = s.operatorID
	}
	return stage.FilterList(s.store.Snapshot().All(), f)
}

// Start loads the persisted selection, opens the dashboard and presence
// feeds, then fetches conversations, agents and teams in parallel. Feeds open
// before the fetch so no event falls between the two; the fetch result is
// reconciled against anything the feeds delivered meanwhile. A previously
// selected conversation is reopened.
func (s *Session) Start(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.restoreSelection(ctx)

	since := s.store.Revision()
	if err := s.openFeeds(); err != nil {
		return err
	}
	if err := s.load(ctx, since); err != nil {
		return err
	}

	if sel := s.Selection(); sel.ConversationID != 0 {
		if _, err := s.OpenConversation(ctx, sel.ConversationID); err != nil {
			s.logger.Warn("reopening saved conversation failed", "conversation_id", sel.ConversationID, "error", err)
		}
	}
	return nil
}

// Load performs the initial fetch without opening any feed. One-shot
// commands use it.
func (s *Session) Load(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.restoreSelection(ctx)
	return s.load(ctx, s.store.Revision())
}

func (s *Session) load(ctx context.Context, since uint64) error {
	s.setLoading(func(l *Loading) { l.Users, l.Teams = true, true })

	var convs []model.Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convs, err = s.backend.ListConversations(gctx)
		return err
	})
	g.Go(func() error {
		defer s.setLoading(func(l *Loading) { l.Users = false })
		agents, err := s.backend.ListAgents(gctx)
		if err != nil {
			s.logger.Warn("loading agents failed", "error", err)
			return nil
		}
		s.guard(func() { s.presence.Update(agents) })
		return nil
	})
	g.Go(func() error {
		defer s.setLoading(func(l *Loading) { l.Teams = false })
		teams, err := s.backend.ListTeams(gctx)
		if err != nil {
			s.logger.Warn("loading teams failed", "error", err)
			return nil
		}
		s.handoff.SetTeams(teams)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	if !s.guard(func() { s.store.Reconcile(convs, since) }) {
		return ErrSessionClosed
	}

	board := s.Board().Counts()
	s.logger.Info("console ready",
		"conversations", len(convs),
		"ai", board.AI,
		"waiting", board.Waiting,
		"agent", board.Agent,
		"operator_id", s.operatorID)
	return nil
}

func (s *Session) restoreSelection(ctx context.Context) {
	if s.selections == nil {
		return
	}
	sel, err := s.selections.Load(ctx, s.operatorID)
	if errors.Is(err, session.ErrNoSelection) {
		return
	}
	if err != nil {
		s.logger.Warn("loading saved selection failed", "error", err)
		return
	}
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	s.logger.Debug("selection restored", "conversation_id", sel.ConversationID, "tab", sel.Tab)
}

func (s *Session) openFeeds() error {
	dashURL, err := channel.FeedURL(s.wsURL, channel.DashboardPath)
	if err != nil {
		return err
	}
	presenceURL, err := channel.FeedURL(s.wsURL, channel.PresencePath)
	if err != nil {
		return err
	}
	header := s.backend.AuthHeader()

	s.channels.Open(s.ctx, channel.FeedDashboard, channel.Endpoint{
		URL:         dashURL,
		Header:      header,
		OnEvent:     s.dispatch,
		OnReconnect: s.refetchConversations,
	})
	s.channels.Open(s.ctx, channel.FeedPresence, channel.Endpoint{
		URL:         presenceURL,
		Header:      header,
		OnEvent:     s.dispatch,
		OnReconnect: s.refetchPresence,
	})
	return nil
}

// dispatch applies a push event to shared state.
func (s *Session) dispatch(ev channel.Event) {
	switch ev.Kind {
	case channel.KindConversationUpdated:
		s.guard(func() { s.store.Apply(*ev.Conversation) })
	case channel.KindUserStatusUpdate:
		s.guard(func() { s.presence.Update(ev.Users) })
	case channel.KindNewMessage:
		if d := s.Detail(); d != nil {
			d.merge(*ev.Message)
		}
	}
}

func (s *Session) refetchConversations(ctx context.Context) error {
	since := s.store.Revision()
	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		return err
	}
	if !s.guard(func() { s.store.Reconcile(convs, since) }) {
		return ErrSessionClosed
	}
	s.logger.Info("conversations refetched after reconnect", "count", len(convs))
	return nil
}

func (s *Session) refetchPresence(ctx context.Context) error {
	users, err := s.backend.ListUserStatus(ctx)
	if err != nil {
		return err
	}
	if !s.guard(func() { s.presence.Update(users) }) {
		return ErrSessionClosed
	}
	return nil
}

// OpenConversation opens the detail view of one conversation, replacing any
// open one: it subscribes to the conversation's message feed, fetches the
// history and records the selection.
func (s *Session) OpenConversation(ctx context.Context, conversationID int64) (*Detail, error) {
	d := newDetail(conversationID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	prev := s.detail
	s.detail = d
	s.loading.Messages = true
	s.mu.Unlock()

	if prev != nil {
		s.closeDetail(prev)
	}

	feedURL, err := channel.FeedURL(s.wsURL, channel.ConversationPath(conversationID))
	if err != nil {
		s.CloseConversation()
		return nil, err
	}
	s.channels.Open(s.ctx, channel.ConversationFeed(conversationID), channel.Endpoint{
		URL:     feedURL,
		Header:  s.backend.AuthHeader(),
		Label:   "conversation",
		OnEvent: s.detailHandler(d),
		OnReconnect: func(ctx context.Context) error {
			msgs, err := s.backend.ListMessages(ctx, conversationID)
			if err != nil {
				return err
			}
			d.merge(msgs...)
			return nil
		},
	})

	msgs, err := s.backend.ListMessages(ctx, conversationID)

	s.mu.Lock()
	current := s.detail == d
	if current {
		s.loading.Messages = false
	}
	s.mu.Unlock()

	if err != nil {
		if current {
			s.CloseConversation()
		}
		return nil, fmt.Errorf("opening conversation %d: %w", conversationID, err)
	}
	d.merge(msgs...)

	if err := s.Select(ctx, conversationID); err != nil {
		s.logger.Warn("saving selection failed", "error", err)
	}
	return d, nil
}

func (s *Session) detailHandler(d *Detail) func(channel.Event) {
	return func(ev channel.Event) {
		if ev.Kind == channel.KindNewMessage {
			d.merge(*ev.Message)
			return
		}
		s.dispatch(ev)
	}
}

// Detail returns the open detail view, or nil.
func (s *Session) Detail() *Detail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail
}

// CloseConversation closes the detail view and its feed. A history fetch
// still in flight is discarded.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	d := s.detail
	s.detail = nil
	s.loading.Messages = false
	s.mu.Unlock()

	if d != nil {
		s.closeDetail(d)
	}
}

func (s *Session) closeDetail(d *Detail) {
	d.close()
	s.channels.Close(channel.ConversationFeed(d.ConversationID()))
}

// Select records the selected conversation and persists it.
func (s *Session) Select(ctx context.Context, conversationID int64) error {
	return s.updateSelection(ctx, func(sel *session.Selection) {
		sel.ConversationID = conversationID
	})
}

// SetListView records the list tab and search text and persists them.
func (s *Session) SetListView(ctx context.Context, tab stage.Tab, search string) error {
	return s.updateSelection(ctx, func(sel *session.Selection) {
		sel.Tab = string(tab)
		sel.Search = search
	})
}

func (s *Session) updateSelection(ctx context.Context, mutate func(*session.Selection)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	mutate(&s.selection)
	sel := s.selection
	s.mu.Unlock()

	if s.selections == nil {
		return nil
	}
	return s.selections.Save(ctx, sel)
}

// EndAttendance ends a conversation and closes its detail view when open.
func (s *Session) EndAttendance(ctx context.Context, conversationID int64) error {
	if err := s.handoff.EndAttendance(ctx, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	open := s.detail != nil && s.detail.ConversationID() == conversationID
	s.mu.Unlock()
	if open {
		s.CloseConversation()
		if err := s.Select(ctx, 0); err != nil {
			s.logger.Warn("saving selection failed", "error", err)
		}
	}
	return nil
}

// SignOut clears the persisted selection and tears the session down.
func (s *Session) SignOut(ctx context.Context) error {
	var err error
	if s.selections != nil {
		err = s.selections.Clear(ctx, s.operatorID)
	}
	s.Close()
	return err
}

// Close tears the session down: feeds stop, in-flight responses are
// discarded and subscribers are released. Safe to call more than once.
func (s *Session) Close() {
	// Hand-off results write to the store directly, so the coordinator is
	// shut before the session counts as closed.
	s.handoff.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	d := s.detail
	s.detail = nil
	s.mu.Unlock()

	s.cancel()
	if d != nil {
		d.close()
	}
	s.channels.CloseAll()
	s.store.Close()
	s.presence.Close()
	s.logger.Debug("session closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// guard runs fn unless the session is closed, holding the session lock so
// Close cannot interleave. fn must not call back into the session.
func (s *Session) guard(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *Session) setLoading(fn func(*Loading)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.loading)
}
