package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsMaxFrame bounds a single client frame.
	wsMaxFrame = 64 << 10
	// wsCloseWait bounds the close handshake write.
	wsCloseWait = time.Second
)

var errTransportClosed = errors.New("transport closed")

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// wsTransport adapts a WebSocket to hub.Transport. The hub's writer
// goroutine is the only caller of Send; Close may race it, which gorilla
// permits for control frames.
type wsTransport struct {
	ws        *websocket.Conn
	closeOnce sync.Once
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.ws.SetWriteDeadline(deadline)
	}
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(wsCloseWait))
		err = t.ws.Close()
	})
	return err
}

// sseTransport adapts a Server-Sent Events response to hub.Transport. The
// request goroutine drains frames; Close ends the stream.
type sseTransport struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	code int
}

func newSSETransport() *sseTransport {
	return &sseTransport{frames: make(chan []byte), done: make(chan struct{})}
}

func (t *sseTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case t.frames <- frame:
		return nil
	case <-t.done:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sseTransport) Close(code int, _ string) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.code = code
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *sseTransport) closeCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code
}
