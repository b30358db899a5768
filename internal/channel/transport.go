// ABOUTME: Transport abstraction for push connections and its websocket implementation
// ABOUTME: Channels only need dial, read and close so tests can swap in fakes

package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is one established push connection.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens push connections.
type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketTransport dials push feeds over websocket.
type WebsocketTransport struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// ReadLimit caps the size of one frame in bytes. Zero means no limit.
	ReadLimit int64
}

// Dial connects to url, sending header with the handshake.
func (t WebsocketTransport) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	if t.ReadLimit > 0 {
		ws.SetReadLimit(t.ReadLimit)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
