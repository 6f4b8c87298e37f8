package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/relay/internal/model"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// ErrRejected wraps a handshake the server refused with an HTTP status.
var ErrRejected = errors.New("live: handshake rejected")

// WebSocketDialer dials GET /v1/connect/{kind}/{id}?token= on a relay
// server. BaseURL may use http(s) or ws(s).
type WebSocketDialer struct {
	BaseURL      string
	Header       http.Header
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// Dial opens the channel for entity.
func (d *WebSocketDialer) Dial(ctx context.Context, entity model.EntityKey, tok string) (Conn, error) {
	u, err := ConnectURL(d.BaseURL, entity, tok)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", entity.String(), err)
	}
	ws.SetReadLimit(maxFrameSize)

	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &wsConn{ws: ws, writeTimeout: wt}, nil
}

// ConnectURL builds the channel URL for entity on the server at base.
func ConnectURL(base string, entity model.EntityKey, tok string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path += "/v1/connect/" + string(entity.Kind) + "/" + entity.ID
	u.RawQuery = url.Values{"token": {tok}}.Encode()
	return u.String(), nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteFrame(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
