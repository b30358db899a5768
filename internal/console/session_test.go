// ABOUTME: Tests for the console session using fake backend, transport and selection store
// ABOUTME: Covers initial load, push application, reconnect repair, detail view and teardown

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-console/internal/channel"
	"github.com/2389/handoff-console/internal/handoff"
	"github.com/2389/handoff-console/internal/model"
	"github.com/2389/handoff-console/internal/session"
	"github.com/2389/handoff-console/internal/stage"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeBackend serves canned data. Fields may be swapped between calls.
type fakeBackend struct {
	mu            sync.Mutex
	conversations []model.Conversation
	convErr       error
	agents        []model.Agent
	status        []model.Agent
	teams         []model.Team
	messages      map[int64][]model.Message
	deleted       []int64
	convCalls     int
	messageCalls  int

	// Transfer signals transferStarted, then blocks on transferRelease.
	transferStarted chan struct{}
	transferRelease chan struct{}
	transferResult  *model.Conversation
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return append([]model.Conversation(nil), f.conversations...), f.convErr
}

func (f *fakeBackend) ListAgents(ctx context.Context) ([]model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents, nil
}

func (f *fakeBackend) ListUserStatus(ctx context.Context) ([]model.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeBackend) ListTeams(ctx context.Context) ([]model.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, id int64) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls++
	return f.messages[id], nil
}

func (f *fakeBackend) Transfer(ctx context.Context, conversationID, agentID int64) (*model.Conversation, error) {
	f.mu.Lock()
	started, release, result := f.transferStarted, f.transferRelease, f.transferResult
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return result, nil
}

func (f *fakeBackend) DeleteConversation(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) AuthHeader() http.Header {
	return http.Header{"Authorization": []string{"Token test"}}
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// pipeConn is a push connection the test writes frames into.
type pipeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) send(frame string) { c.frames <- []byte(frame) }

// routedTransport hands out one pipeConn per dial, queued by URL path.
type routedTransport struct {
	mu     sync.Mutex
	routes map[string]chan *pipeConn
}

func newRoutedTransport() *routedTransport {
	return &routedTransport{routes: make(map[string]chan *pipeConn)}
}

func (t *routedTransport) route(path string) chan *pipeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.routes[path]
	if !ok {
		ch = make(chan *pipeConn, 16)
		t.routes[path] = ch
	}
	return ch
}

func (t *routedTransport) Dial(ctx context.Context, rawURL string, header http.Header) (channel.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	conn := &pipeConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
	t.route(u.Path) <- conn
	return conn, nil
}

func (t *routedTransport) next(tb testing.TB, path string) *pipeConn {
	tb.Helper()
	select {
	case c := <-t.route(path):
		return c
	case <-time.After(2 * time.Second):
		tb.Fatalf("no dial for %s", path)
		return nil
	}
}

// memSelections is an in-memory SelectionStore.
type memSelections struct {
	mu   sync.Mutex
	rows map[int64]session.Selection
}

func (m *memSelections) Load(ctx context.Context, id int64) (session.Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.rows[id]
	if !ok {
		return session.Selection{}, session.ErrNoSelection
	}
	return sel, nil
}

func (m *memSelections) Save(ctx context.Context, sel session.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sel.OperatorID] = sel
	return nil
}

func (m *memSelections) Clear(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memSelections) get(id int64) (session.Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel, ok := m.rows[id]
	return sel, ok
}

type harness struct {
	backend    *fakeBackend
	transport  *routedTransport
	selections *memSelections
	session    *Session
}

func newHarness(t *testing.T, fb *fakeBackend) *harness {
	t.Helper()
	tr := newRoutedTransport()
	sels := &memSelections{rows: map[int64]session.Selection{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Options{
		Backend:    fb,
		WSURL:      "ws://push.test",
		OperatorID: 7,
		Selections: sels,
		Channels: channel.Options{
			Transport:      tr,
			ReconnectDelay: 10 * time.Millisecond,
			Logger:         logger,
		},
		Logger: logger,
	})
	t.Cleanup(s.Close)
	return &harness{backend: fb, transport: tr, selections: sels, session: s}
}

func conv(id int64, status model.Status, assignee *model.Agent, minute int) model.Conversation {
	return model.Conversation{
		ID:        id,
		Status:    status,
		Assignee:  assignee,
		CreatedAt: t0,
		UpdatedAt: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func convFrame(id int64, status string, assigneeID int64, minute int) string {
	assignee := "null"
	if assigneeID != 0 {
		assignee = fmt.Sprintf(`{"id":%d,"username":"agent%d"}`, assigneeID, assigneeID)
	}
	return fmt.Sprintf(`{"action":"update_conversation","conversation":{"id":%d,"status":%q,"assignee":%s,"updated_at":"2025-03-01T12:%02d:00Z"}}`,
		id, status, assignee, minute)
}

var (
	joao = &model.Agent{ID: 7, Username: "joao", FirstName: "Joao"}
	ana  = &model.Agent{ID: 8, Username: "ana", FirstName: "Ana"}
)

func TestLoad_PopulatesStorePresenceAndTeams(t *testing.T) {
	fb := &fakeBackend{
		conversations: []model.Conversation{
			conv(1, model.StatusOpen, joao, 1),
			conv(2, model.StatusPending, nil, 2),
			conv(3, model.StatusPending, ana, 3),
		},
		agents: []model.Agent{*joao, {ID: 8, Username: "ana", FirstName: "Ana", IsOnline: true}},
		teams:  []model.Team{{ID: 5, Name: "Suporte"}},
	}
	h := newHarness(t, fb)

	require.NoError(t, h.session.Load(context.Background()))

	assert.Equal(t, stage.Counts{AI: 1, Waiting: 1, Agent: 1}, h.session.Board().Counts())
	assert.True(t, h.session.Presence().IsOnline(8))
	assert.Equal(t, Loading{}, h.session.Loading())
	assert.Empty(t, h.session.Channels().Feeds(), "Load opens no feeds")

	mine := h.session.List(stage.ListFilter{Tab: stage.TabMine})
	require.Len(t, mine, 1)
	assert.Equal(t, int64(1), mine[0].ID)

	teams, err := h.session.Handoff().Teams(context.Background())
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestLoad_ConversationFailure(t *testing.T) {
	h := newHarness(t, &fakeBackend{convErr: errors.New("backend down")})
	err := h.session.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial load")
}

func TestStart_AppliesPushEvents(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{conv(42, model.StatusPending, nil, 0)}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Start(context.Background()))

	dash := h.transport.next(t, channel.DashboardPath)
	presence := h.transport.next(t, channel.PresencePath)

	dash.send(convFrame(42, "open", 7, 1))
	presence.send(`{"type":"user_status_update","users":[{"id":7,"is_online":true}]}`)

	require.Eventually(t, func() bool {
		c, ok := h.session.Store().Get(42)
		return ok && c.Assignee != nil && h.session.Presence().IsOnline(7)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, stage.Counts{Agent: 1}, h.session.Board().Counts())
}

func TestStart_ReconnectRepairsMissedEvents(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{
		conv(1, model.StatusOpen, joao, 0),
		conv(2, model.StatusPending, nil, 0),
	}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Start(context.Background()))
	dash := h.transport.next(t, channel.DashboardPath)

	// While the feed is down the server moves on: 1 is closed, 2 gets an
	// agent and 3 appears.
	serverState := []model.Conversation{
		conv(1, model.StatusClosed, joao, 5),
		conv(2, model.StatusOpen, ana, 5),
		conv(3, model.StatusSnoozed, nil, 5),
	}
	fb.set(func(f *fakeBackend) { f.conversations = serverState })
	dash.Close()

	h.transport.next(t, channel.DashboardPath)
	require.Eventually(t, func() bool {
		return h.session.Store().Snapshot().Len() == 3
	}, time.Second, 5*time.Millisecond)

	// Same view as a client that never disconnected.
	snap := h.session.Store().Snapshot()
	for _, want := range serverState {
		got, ok := snap.Get(want.ID)
		require.True(t, ok)
		assert.Equal(t, want.Status, got.Status)
	}
	assert.Equal(t, stage.Counts{AI: 1, Agent: 1}, h.session.Board().Counts())
}

func TestStart_PresenceReconnectRefetchesStatus(t *testing.T) {
	fb := &fakeBackend{agents: []model.Agent{{ID: 7, Username: "joao", IsOnline: true}}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Start(context.Background()))
	require.True(t, h.session.Presence().IsOnline(7))

	fb.set(func(f *fakeBackend) { f.status = []model.Agent{{ID: 8, IsOnline: true}} })
	h.transport.next(t, channel.PresencePath).Close()
	h.transport.next(t, channel.PresencePath)

	require.Eventually(t, func() bool {
		return h.session.Presence().IsOnline(8) && !h.session.Presence().IsOnline(7)
	}, time.Second, 5*time.Millisecond)
}

func TestOpenConversation_MergesHistoryAndPushedMessages(t *testing.T) {
	fb := &fakeBackend{
		conversations: []model.Conversation{conv(42, model.StatusOpen, joao, 0)},
		messages: map[int64][]model.Message{42: {
			{ID: 2, ConversationID: 42, Content: "second", CreatedAt: t0.Add(2 * time.Second)},
			{ID: 1, ConversationID: 42, Content: "first", CreatedAt: t0.Add(time.Second)},
		}},
	}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Load(context.Background()))

	d, err := h.session.OpenConversation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents(d.Messages()))

	feed := h.transport.next(t, channel.ConversationPath(42))
	feed.send(`{"type":"new_message","message":{"id":3,"conversation":42,"content":"third","created_at":"2025-03-01T12:00:03Z"}}`)
	feed.send(`{"type":"new_message","message":{"id":2,"conversation":42,"content":"second (edited)","created_at":"2025-03-01T12:00:02Z"}}`)
	feed.send(`{"type":"new_message","message":{"id":9,"conversation":99,"content":"elsewhere","created_at":"2025-03-01T12:00:04Z"}}`)

	require.Eventually(t, func() bool { return len(d.Messages()) == 3 && d.Messages()[1].Content != "second" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second (edited)", "third"}, contents(d.Messages()))

	sel, ok := h.selections.get(7)
	require.True(t, ok)
	assert.Equal(t, int64(42), sel.ConversationID)
	assert.Equal(t, []string{channel.ConversationFeed(42)}, h.session.Channels().Feeds())
}

func TestStart_AppliesRebroadcastsWithUnchangedTimestamps(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{conv(42, model.StatusPending, ana, 0)}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Start(context.Background()))
	dash := h.transport.next(t, channel.DashboardPath)

	d, err := h.session.OpenConversation(context.Background(), 42)
	require.NoError(t, err)
	feed := h.transport.next(t, channel.ConversationPath(42))

	// Same updated_at, new status.
	dash.send(convFrame(42, "pending", 8, 1))
	dash.send(convFrame(42, "open", 8, 1))

	// Same id and created_at, reaction added.
	feed.send(`{"type":"new_message","message":{"id":3,"conversation":42,"content":"oi","created_at":"2025-03-01T12:00:03Z"}}`)
	feed.send(`{"type":"new_message","message":{"id":3,"conversation":42,"content":"oi","created_at":"2025-03-01T12:00:03Z","additional_attributes":{"reactions":["+1"]}}}`)

	require.Eventually(t, func() bool {
		c, ok := h.session.Store().Get(42)
		return ok && c.Status == model.StatusOpen
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, stage.Counts{Agent: 1}, h.session.Board().Counts())

	require.Eventually(t, func() bool {
		msgs := d.Messages()
		return len(msgs) == 1 && len(msgs[0].Attributes) > 0
	}, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"reactions":["+1"]}`, string(d.Messages()[0].Attributes))
}

func TestOpenConversation_ReplacesPreviousDetail(t *testing.T) {
	h := newHarness(t, &fakeBackend{})

	first, err := h.session.OpenConversation(context.Background(), 1)
	require.NoError(t, err)
	second, err := h.session.OpenConversation(context.Background(), 2)
	require.NoError(t, err)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Same(t, second, h.session.Detail())
	assert.Equal(t, []string{channel.ConversationFeed(2)}, h.session.Channels().Feeds())

	_, open := <-first.Updates()
	assert.False(t, open, "closed view releases its update channel")
}

func TestCloseConversation_DiscardsLateMessages(t *testing.T) {
	h := newHarness(t, &fakeBackend{})
	d, err := h.session.OpenConversation(context.Background(), 42)
	require.NoError(t, err)

	h.session.CloseConversation()

	assert.False(t, d.merge(model.Message{ID: 1, ConversationID: 42}))
	assert.Empty(t, d.Messages())
	assert.Nil(t, h.session.Detail())
	assert.Empty(t, h.session.Channels().Feeds())
	assert.False(t, h.session.Loading().Messages)
}

func TestStart_RestoresSelectionAndReopensConversation(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{conv(42, model.StatusOpen, joao, 0)}}
	h := newHarness(t, fb)
	h.selections.rows[7] = session.Selection{OperatorID: 7, ConversationID: 42, Tab: "ai", Search: "maria"}

	require.NoError(t, h.session.Start(context.Background()))

	sel := h.session.Selection()
	assert.Equal(t, "ai", sel.Tab)
	assert.Equal(t, "maria", sel.Search)
	require.NotNil(t, h.session.Detail())
	assert.Equal(t, int64(42), h.session.Detail().ConversationID())
}

func TestSetListView_Persists(t *testing.T) {
	h := newHarness(t, &fakeBackend{})
	require.NoError(t, h.session.SetListView(context.Background(), stage.TabUnassigned, "ana"))

	sel, ok := h.selections.get(7)
	require.True(t, ok)
	assert.Equal(t, "unassigned", sel.Tab)
	assert.Equal(t, "ana", sel.Search)
}

func TestEndAttendance_ClosesOpenDetail(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{conv(42, model.StatusOpen, joao, 0)}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Load(context.Background()))
	_, err := h.session.OpenConversation(context.Background(), 42)
	require.NoError(t, err)

	require.NoError(t, h.session.EndAttendance(context.Background(), 42))

	_, ok := h.session.Store().Get(42)
	assert.False(t, ok)
	assert.Nil(t, h.session.Detail())
	sel, _ := h.selections.get(7)
	assert.Equal(t, int64(0), sel.ConversationID)
}

func TestSignOut_ClearsSelectionAndCloses(t *testing.T) {
	h := newHarness(t, &fakeBackend{})
	require.NoError(t, h.session.Select(context.Background(), 42))

	require.NoError(t, h.session.SignOut(context.Background()))

	_, ok := h.selections.get(7)
	assert.False(t, ok)
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrSessionClosed)
	assert.ErrorIs(t, h.session.Select(context.Background(), 1), ErrSessionClosed)
	_, err := h.session.OpenConversation(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestClose_DiscardsTransferResultInFlight(t *testing.T) {
	assigned := conv(42, model.StatusOpen, ana, 5)
	fb := &fakeBackend{
		conversations:   []model.Conversation{conv(42, model.StatusPending, nil, 0)},
		transferStarted: make(chan struct{}),
		transferRelease: make(chan struct{}),
		transferResult:  &assigned,
	}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Load(context.Background()))
	rev := h.session.Store().Revision()

	errc := make(chan error, 1)
	go func() {
		_, err := h.session.Handoff().TransferToAgent(context.Background(), 42, ana.ID)
		errc <- err
	}()
	<-fb.transferStarted

	h.session.Close()
	close(fb.transferRelease)

	assert.ErrorIs(t, <-errc, handoff.ErrClosed)
	assert.Equal(t, rev, h.session.Store().Revision())
	c, ok := h.session.Store().Get(42)
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, c.Status)

	_, err := h.session.Handoff().TransferToAgent(context.Background(), 42, ana.ID)
	assert.ErrorIs(t, err, handoff.ErrClosed)
}

func TestClose_StopsFeedsAndIgnoresLateEvents(t *testing.T) {
	fb := &fakeBackend{conversations: []model.Conversation{conv(1, model.StatusPending, nil, 0)}}
	h := newHarness(t, fb)
	require.NoError(t, h.session.Start(context.Background()))
	h.transport.next(t, channel.DashboardPath)

	rev := h.session.Store().Revision()
	h.session.Close()
	assert.NotPanics(t, h.session.Close)

	h.session.dispatch(channel.Event{Kind: channel.KindConversationUpdated, Conversation: &model.Conversation{ID: 9, UpdatedAt: t0}})
	assert.Equal(t, rev, h.session.Store().Revision())
	assert.Empty(t, h.session.Channels().Feeds())
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
