package hub

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// conn is one admitted transport plus its outbound queue. The actor owns
// the conn; the writer goroutine only drains the queue.
type conn struct {
	id          string
	tr          Transport
	userID      string
	role        model.Role
	connectedAt time.Time

	queue    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newConn(id string, tr Transport, userID string, role model.Role, at time.Time, queueSize int) *conn {
	return &conn{
		id:          id,
		tr:          tr,
		userID:      userID,
		role:        role,
		connectedAt: at,
		queue:       make(chan []byte, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (c *conn) ack(entity model.EntityKey) *Ack {
	return &Ack{
		ConnectionID: c.id,
		Entity:       entity,
		UserID:       c.userID,
		Role:         c.role,
		ConnectedAt:  c.connectedAt,
	}
}

// enqueue adds frame without blocking. It reports false when the queue is
// full.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

// shutdown stops the writer and closes the transport once the writer has
// exited, so Close never races an in-flight Send.
func (c *conn) shutdown(code int, reason string) {
	c.stopOnce.Do(func() {
		close(c.stop)
		go func() {
			<-c.done
			_ = c.tr.Close(code, reason)
		}()
	})
}

// writeLoop sends queued frames in order. A send error asks the actor to
// drop the connection.
func (c *conn) writeLoop(h *Hub, entity model.EntityKey) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case frame := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
			err := c.tr.Send(ctx, frame)
			cancel()
			if err != nil {
				h.logger.Debug("send failed", "entity", entity.String(), "connection", c.id, "error", err)
				go h.removeWithCode(context.Background(), entity, c.tr, CloseGoingAway, "send failed")
				return
			}
		}
	}
}
