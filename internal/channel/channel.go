// ABOUTME: One push feed connection with fixed-delay reconnect and refetch-on-reconnect
// ABOUTME: Parses, de-duplicates and dispatches frames in arrival order on one goroutine

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/handoff-console/internal/dedupe"
)

// ErrChannelDropped indicates an unplanned connection loss. It is logged and
// followed by a reconnect, never returned to callers.
var ErrChannelDropped = errors.New("channel dropped")

// DefaultReconnectDelay is the wait between a drop and the next dial.
const DefaultReconnectDelay = 2 * time.Second

// State is the lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateClosedFinal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateClosedFinal:
		return "closed_final"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Endpoint describes what a channel connects to and where its events go.
type Endpoint struct {
	URL    string
	Header http.Header
	// Label names the feed in metrics. Defaults to the feed name.
	Label string
	// OnEvent receives every accepted event, in arrival order.
	OnEvent func(Event)
	// OnReconnect runs after the channel re-opens following a drop and
	// before any further frame is dispatched. An error drops the new
	// connection and schedules another attempt.
	OnReconnect func(ctx context.Context) error
}

// Options are shared by every channel a Manager opens.
type Options struct {
	Transport      Transport
	ReconnectDelay time.Duration
	DedupeTTL      time.Duration
	DedupeSize     int
	Metrics        *Metrics
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = WebsocketTransport{}
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 5 * time.Minute
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 1000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Channel keeps one push feed connected until closed.
type Channel struct {
	feed  string
	label string
	ep    Endpoint
	opts  Options

	state  atomic.Int32
	seen   *dedupe.Cache
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   Conn
	once   sync.Once
	logger *slog.Logger
}

// New creates a channel for feed. Call Start to connect.
func New(feed string, ep Endpoint, opts Options) *Channel {
	opts = opts.withDefaults()
	label := ep.Label
	if label == "" {
		label = feed
	}
	c := &Channel{
		feed:   feed,
		label:  label,
		ep:     ep,
		opts:   opts,
		seen:   dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		done:   make(chan struct{}),
		logger: opts.Logger.With("component", "channel", "feed", feed),
	}
	c.setState(StateConnecting)
	return c
}

// Start launches the connection loop. The channel stops when ctx is
// cancelled or Close is called.
func (c *Channel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Feed returns the feed name.
func (c *Channel) Feed() string { return c.feed }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Done is closed once the channel reaches StateClosedFinal.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close stops the channel, cancelling any pending reconnect, and waits for
// the loop to exit. No handler runs after Close returns.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		conn := c.conn
		c.mu.Unlock()

		if cancel == nil {
			// Never started.
			c.finish()
			return
		}
		cancel()
		if conn != nil {
			conn.Close()
		}
		<-c.done
	})
}

func (c *Channel) finish() {
	c.setState(StateClosedFinal)
	c.seen.Close()
	close(c.done)
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	c.opts.Metrics.stateChanged(c.label, s)
}

func (c *Channel) setConn(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) run(ctx context.Context) {
	defer c.finish()

	dropped := false
	for {
		c.setState(StateConnecting)
		conn, err := c.opts.Transport.Dial(ctx, c.ep.URL, c.ep.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("dial failed", "error", err, "retry_in", c.opts.ReconnectDelay)
			c.setState(StateClosed)
			if !c.wait(ctx) {
				return
			}
			dropped = true
			continue
		}

		log := c.logger.With("connection_id", uuid.NewString())
		c.setConn(conn)
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		c.setState(StateOpen)

		if dropped {
			err = c.repair(ctx)
		}
		if err == nil {
			log.Info("channel open", "reconnect", dropped)
			err = c.readLoop(ctx, conn)
		}

		stop()
		conn.Close()
		c.setConn(nil)
		if ctx.Err() != nil {
			return
		}

		log.Warn("connection lost",
			"error", fmt.Errorf("%w: %w", ErrChannelDropped, err),
			"retry_in", c.opts.ReconnectDelay)
		c.setState(StateClosed)
		if !c.wait(ctx) {
			return
		}
		dropped = true
	}
}

// repair runs the refetch hook. Frames replayed after the refetch must be
// applied on top of the fresh state, so the dedupe window starts over.
func (c *Channel) repair(ctx context.Context) error {
	c.opts.Metrics.reconnected(c.label)
	c.seen.Reset()
	if c.ep.OnReconnect == nil {
		return nil
	}
	if err := c.ep.OnReconnect(ctx); err != nil {
		return fmt.Errorf("refetching after reconnect: %w", err)
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Debug("dropping frame", "error", err, "size", len(data))
			c.opts.Metrics.malformedFrame(c.label)
			continue
		}
		if key := ev.Key(); key != "" && c.seen.Seen(key) {
			c.opts.Metrics.duplicateFrame(c.label)
			continue
		}

		c.opts.Metrics.dispatched(c.label, ev.Kind)
		if c.ep.OnEvent != nil {
			c.ep.OnEvent(ev)
		}
	}
}

func (c *Channel) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
