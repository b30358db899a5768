// ABOUTME: Registry of named push channels sharing transport, metrics and reconnect policy
// ABOUTME: Channels are independent; closing or failing one never touches another

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Well-known feed names.
const (
	FeedDashboard = "dashboard"
	FeedPresence  = "presence"
)

// ConversationFeed names the message feed of one conversation.
func ConversationFeed(id int64) string {
	return fmt.Sprintf("conversation:%d", id)
}

// FeedURL joins a websocket base URL with a feed path. An http(s) base is
// converted to ws(s).
func FeedURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing websocket base %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// Feed paths on the push server.
const (
	DashboardPath = "/ws/conversas_dashboard/"
	PresencePath  = "/ws/user_status/"
)

// ConversationPath is the message feed path of one conversation.
func ConversationPath(id int64) string {
	return fmt.Sprintf("/ws/conversations/%d/", id)
}

// Manager owns the channels of one session.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*Channel
	opts     Options
	logger   *slog.Logger
}

// NewManager creates a manager whose channels use opts.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		channels: make(map[string]*Channel),
		opts:     opts,
		logger:   opts.Logger.With("component", "channel_manager"),
	}
}

// Open starts a channel for feed. An existing channel with the same name is
// closed first. The channel lives until Close, CloseAll or ctx cancellation.
func (m *Manager) Open(ctx context.Context, feed string, ep Endpoint) *Channel {
	ch := New(feed, ep, m.opts)

	m.mu.Lock()
	prev := m.channels[feed]
	m.channels[feed] = ch
	total := len(m.channels)
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	ch.Start(ctx)

	m.logger.Info("feed opened", "feed", feed, "url", ep.URL, "total_feeds", total)
	return ch
}

// Close stops one feed. It reports whether the feed was open.
func (m *Manager) Close(feed string) bool {
	m.mu.Lock()
	ch, ok := m.channels[feed]
	delete(m.channels, feed)
	total := len(m.channels)
	m.mu.Unlock()

	if !ok {
		return false
	}
	ch.Close()
	m.logger.Info("feed closed", "feed", feed, "total_feeds", total)
	return true
}

// CloseAll stops every feed.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[string]*Channel)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Close()
		}()
	}
	wg.Wait()
	if len(chans) > 0 {
		m.logger.Info("all feeds closed", "count", len(chans))
	}
}

// State returns the state of feed, or false when no such feed is open.
func (m *Manager) State(feed string) (State, bool) {
	m.mu.Lock()
	ch, ok := m.channels[feed]
	m.mu.Unlock()
	if !ok {
		return StateClosedFinal, false
	}
	return ch.State(), true
}

// Feeds lists the open feed names in sorted order.
func (m *Manager) Feeds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for feed := range m.channels {
		out = append(out, feed)
	}
	sort.Strings(out)
	return out
}
