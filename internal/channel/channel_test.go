// ABOUTME: Tests for the channel state machine using an in-memory transport
// ABOUTME: Covers ordering, malformed and duplicate frames, reconnect repair and teardown

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame string) { c.frames <- []byte(frame) }

// fakeTransport hands out fakeConns and fails the first dials listed in
// failures.
type fakeTransport struct {
	mu       sync.Mutex
	failures []error
	dials    int
	headers  []http.Header
	dialed   chan *fakeConn
}

func newFakeTransport(failures ...error) *fakeTransport {
	return &fakeTransport{failures: failures, dialed: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	t.headers = append(t.headers, header)
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		return nil, err
	}
	conn := newFakeConn()
	t.dialed <- conn
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) next(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.dialed:
		return c
	case <-time.After(2 * time.Second):
		tb.Fatal("no dial")
		return nil
	}
}

// recorder collects handler calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) onEvent(ev Event) {
	switch ev.Kind {
	case KindConversationUpdated:
		r.add(fmt.Sprintf("conversation:%d:%s", ev.Conversation.ID, ev.Conversation.Status))
	case KindUserStatusUpdate:
		r.add(fmt.Sprintf("users:%d", len(ev.Users)))
	case KindNewMessage:
		r.add(fmt.Sprintf("message:%d", ev.Message.ID))
	}
}

func testOptions(tr Transport, m *Metrics) Options {
	return Options{
		Transport:      tr,
		ReconnectDelay: 10 * time.Millisecond,
		DedupeTTL:      time.Minute,
		DedupeSize:     100,
		Metrics:        m,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func convFrame(id int64, status string, minute int) string {
	return fmt.Sprintf(`{"action":"update_conversation","conversation":{"id":%d,"status":%q,"updated_at":"2025-03-01T12:%02d:00Z"}}`, id, status, minute)
}

func startChannel(t *testing.T, ep Endpoint, opts Options) *Channel {
	t.Helper()
	ch := New("dashboard", ep, opts)
	ch.Start(context.Background())
	t.Cleanup(ch.Close)
	return ch
}

func TestChannel_DispatchesInArrivalOrder(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	header := http.Header{"Authorization": []string{"Token abc"}}
	ch := startChannel(t, Endpoint{URL: "ws://x", Header: header, OnEvent: rec.onEvent}, testOptions(tr, nil))

	conn := tr.next(t)
	conn.send(convFrame(1, "open", 1))
	conn.send(convFrame(2, "pending", 1))
	conn.send(convFrame(1, "pending", 2))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conversation:1:open", "conversation:2:pending", "conversation:1:pending"}, rec.snapshot())
	assert.Equal(t, StateOpen, ch.State())
	assert.Equal(t, "Token abc", tr.headers[0].Get("Authorization"))
}

func TestChannel_DropsMalformedFramesAndContinues(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	m := NewMetrics(prometheus.NewRegistry())
	startChannel(t, Endpoint{URL: "ws://x", OnEvent: rec.onEvent}, testOptions(tr, m))

	conn := tr.next(t)
	conn.send(`not json`)
	conn.send(`{"type":"typing"}`)
	conn.send(convFrame(1, "open", 1))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.malformed.WithLabelValues("dashboard")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues("dashboard", string(KindConversationUpdated))))
	assert.Equal(t, 1, tr.dialCount(), "malformed frames do not drop the connection")
}

func TestChannel_DropsDuplicateFrames(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	m := NewMetrics(prometheus.NewRegistry())
	startChannel(t, Endpoint{URL: "ws://x", OnEvent: rec.onEvent}, testOptions(tr, m))

	conn := tr.next(t)
	conn.send(convFrame(1, "open", 1))
	conn.send(convFrame(1, "open", 1))
	conn.send(convFrame(1, "pending", 2))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conversation:1:open", "conversation:1:pending"}, rec.snapshot())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.duplicates.WithLabelValues("dashboard")))
}

func TestChannel_DispatchesContentChangesWithSameTimestamp(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	m := NewMetrics(prometheus.NewRegistry())
	startChannel(t, Endpoint{URL: "ws://x", OnEvent: rec.onEvent}, testOptions(tr, m))

	conn := tr.next(t)
	conn.send(`{"type":"new_message","message":{"id":3,"conversation":42,"content":"oi","created_at":"2025-03-01T12:00:00Z"}}`)
	conn.send(`{"type":"new_message","message":{"id":3,"conversation":42,"content":"oi","created_at":"2025-03-01T12:00:00Z","additional_attributes":{"reactions":["+1"]}}}`)
	conn.send(convFrame(42, "pending", 1))
	conn.send(convFrame(42, "open", 1))
	conn.send(convFrame(42, "open", 1))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"message:3", "message:3", "conversation:42:pending", "conversation:42:open"}, rec.snapshot())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.duplicates.WithLabelValues("dashboard")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChannel_RefetchRunsBeforeFramesAfterReconnect(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	m := NewMetrics(prometheus.NewRegistry())
	ep := Endpoint{
		URL:     "ws://x",
		OnEvent: rec.onEvent,
		OnReconnect: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			rec.add("refetch")
			return nil
		},
	}
	startChannel(t, ep, testOptions(tr, m))

	first := tr.next(t)
	first.send(convFrame(1, "open", 1))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	first.Close()

	second := tr.next(t)
	second.send(convFrame(2, "open", 1))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conversation:1:open", "refetch", "conversation:2:open"}, rec.snapshot())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconnects.WithLabelValues("dashboard")))
}

func TestChannel_NoRefetchOnFirstOpen(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	ep := Endpoint{
		URL:     "ws://x",
		OnEvent: rec.onEvent,
		OnReconnect: func(ctx context.Context) error {
			rec.add("refetch")
			return nil
		},
	}
	startChannel(t, ep, testOptions(tr, nil))

	tr.next(t).send(convFrame(1, "open", 1))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conversation:1:open"}, rec.snapshot())
}

func TestChannel_RetriesDialAndRefetches(t *testing.T) {
	tr := newFakeTransport(errors.New("connection refused"), errors.New("connection refused"))
	rec := &recorder{}
	ep := Endpoint{
		URL:     "ws://x",
		OnEvent: rec.onEvent,
		OnReconnect: func(ctx context.Context) error {
			rec.add("refetch")
			return nil
		},
	}
	ch := startChannel(t, ep, testOptions(tr, nil))

	conn := tr.next(t)
	conn.send(convFrame(1, "open", 1))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"refetch", "conversation:1:open"}, rec.snapshot())
	assert.Equal(t, 3, tr.dialCount())
	assert.Equal(t, StateOpen, ch.State())
}

func TestChannel_FailedRefetchReconnectsAgain(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	var mu sync.Mutex
	attempts := 0
	ep := Endpoint{
		URL:     "ws://x",
		OnEvent: rec.onEvent,
		OnReconnect: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("backend unavailable")
			}
			rec.add("refetch")
			return nil
		},
	}
	startChannel(t, ep, testOptions(tr, nil))

	tr.next(t).Close()
	failed := tr.next(t)
	failed.send(convFrame(5, "open", 1))
	third := tr.next(t)
	third.send(convFrame(6, "open", 1))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"refetch", "conversation:6:open"}, rec.snapshot(),
		"frames on a connection whose refetch failed are never dispatched")
}

func TestChannel_DedupeWindowResetsAfterReconnect(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	startChannel(t, Endpoint{URL: "ws://x", OnEvent: rec.onEvent}, testOptions(tr, nil))

	first := tr.next(t)
	first.send(convFrame(1, "open", 1))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	first.Close()

	tr.next(t).send(convFrame(1, "open", 1))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestChannel_CloseCancelsPendingReconnect(t *testing.T) {
	tr := newFakeTransport(errors.New("down"))
	opts := testOptions(tr, nil)
	opts.ReconnectDelay = time.Hour
	ch := New("dashboard", Endpoint{URL: "ws://x"}, opts)
	ch.Start(context.Background())

	require.Eventually(t, func() bool { return ch.State() == StateClosed }, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		ch.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the reconnect timer")
	}
	assert.Equal(t, StateClosedFinal, ch.State())
	assert.Equal(t, 1, tr.dialCount())
}

func TestChannel_NoDispatchAfterClose(t *testing.T) {
	tr := newFakeTransport()
	rec := &recorder{}
	ch := New("dashboard", Endpoint{URL: "ws://x", OnEvent: rec.onEvent}, testOptions(tr, nil))
	ch.Start(context.Background())

	conn := tr.next(t)
	ch.Close()
	conn.send(convFrame(1, "open", 1))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, StateClosedFinal, ch.State())
	select {
	case <-ch.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestChannel_CloseWithoutStart(t *testing.T) {
	ch := New("dashboard", Endpoint{URL: "ws://x"}, testOptions(newFakeTransport(), nil))
	ch.Close()
	assert.Equal(t, StateClosedFinal, ch.State())
	assert.NotPanics(t, ch.Close)
}

func TestChannel_ContextCancelStops(t *testing.T) {
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	ch := New("dashboard", Endpoint{URL: "ws://x"}, testOptions(tr, nil))
	ch.Start(ctx)
	tr.next(t)

	cancel()

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not stop")
	}
	assert.Equal(t, StateClosedFinal, ch.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "closed_final", StateClosedFinal.String())
	assert.Equal(t, "state(9)", State(9).String())
}
