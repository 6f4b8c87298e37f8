package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/token"
)

// actor serializes all state changes for one entity. Every field below
// ops is touched only from the run goroutine.
type actor struct {
	hub *Hub
	key model.EntityKey
	log *slog.Logger

	ops     chan func()
	idle    chan struct{}
	stop    chan struct{}
	retired chan struct{}

	conns     map[Transport]*conn
	seq       uint64
	idleSince time.Time
	idleTimer *clock.Timer
}

func newActor(h *Hub, key model.EntityKey) *actor {
	a := &actor{
		hub:     h,
		key:     key,
		log:     h.logger.With("entity", key.String()),
		ops:     make(chan func()),
		idle:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		retired: make(chan struct{}),
		conns:   make(map[Transport]*conn),
	}
	a.resetIdle()
	return a
}

func (a *actor) run() {
	defer a.hub.wg.Done()
	a.log.Debug("actor started")

	for {
		select {
		case fn := <-a.ops:
			fn()
		case <-a.idle:
			if a.idleExpired() {
				a.retire("idle")
				return
			}
		case <-a.stop:
			for tr := range a.conns {
				a.remove(tr, CloseGoingAway, "server shutting down")
			}
			a.retire("shutdown")
			return
		}
	}
}

func (a *actor) retire(why string) {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	a.hub.retire(a)
	close(a.retired)
	a.log.Debug("actor retired", "reason", why, "sequence", a.seq)
}

// resetIdle restarts the idle window when the connection set is empty
// and cancels it otherwise.
func (a *actor) resetIdle() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
		a.idleTimer = nil
	}
	if len(a.conns) > 0 {
		return
	}
	a.idleSince = a.hub.cfg.Clock.Now()
	a.idleTimer = a.hub.cfg.Clock.AfterFunc(a.hub.cfg.IdleTimeout, func() {
		select {
		case a.idle <- struct{}{}:
		default:
		}
	})
}

// idleExpired re-checks the condition because a timer signal can be stale.
func (a *actor) idleExpired() bool {
	if len(a.conns) > 0 {
		return false
	}
	return a.hub.cfg.Clock.Now().Sub(a.idleSince) >= a.hub.cfg.IdleTimeout
}

func (a *actor) admit(tr Transport, claims *token.Claims) *Ack {
	if c, ok := a.conns[tr]; ok {
		return c.ack(a.key)
	}

	c := newConn(idgen.Connection(), tr, claims.Subject, claims.Role, a.hub.cfg.Clock.Now(), a.hub.cfg.QueueSize)
	a.conns[tr] = c
	a.hub.connections.Add(1)
	go c.writeLoop(a.hub, a.key)

	ack := c.ack(a.key)
	if frame, err := controlFrame(model.EventAdmitted, model.AdmittedPayload{
		ConnectionID: ack.ConnectionID,
		UserID:       ack.UserID,
		Role:         ack.Role,
		ConnectedAt:  ack.ConnectedAt,
	}); err == nil {
		c.enqueue(frame)
	}

	a.log.Info("connection admitted",
		"connection", c.id,
		"user", c.userID,
		"role", c.role,
		"connections", len(a.conns))
	return ack
}

func (a *actor) broadcast(typ model.EventType, payload json.RawMessage, by *model.Actor) (uint64, error) {
	a.seq++
	ev := model.Event{
		Type:        typ,
		EntityKind:  a.key.Kind,
		EntityID:    a.key.ID,
		Sequence:    a.seq,
		Payload:     payload,
		TriggeredBy: by,
		SentAt:      a.hub.cfg.Clock.Now(),
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return a.seq, fmt.Errorf("encoding %s event: %w", typ, err)
	}

	for tr, c := range a.conns {
		if !c.enqueue(frame) {
			a.log.Warn("dropping slow consumer", "connection", c.id, "user", c.userID)
			a.remove(tr, CloseSlowConsumer, "outbound queue full")
		}
	}
	return a.seq, nil
}

func (a *actor) remove(tr Transport, code int, reason string) {
	c, ok := a.conns[tr]
	if !ok {
		return
	}
	delete(a.conns, tr)
	a.hub.connections.Add(-1)
	c.shutdown(code, reason)

	a.log.Info("connection removed",
		"connection", c.id,
		"user", c.userID,
		"code", code,
		"connections", len(a.conns))
}

func (a *actor) ping(tr Transport) error {
	c, ok := a.conns[tr]
	if !ok {
		return ErrNotConnected
	}
	frame, err := controlFrame(model.EventPong, nil)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		a.remove(tr, CloseSlowConsumer, "outbound queue full")
	}
	return nil
}

// controlFrame encodes a frame that carries no entity or sequence.
func controlFrame(typ model.EventType, payload any) ([]byte, error) {
	ev := model.Event{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = raw
	}
	return json.Marshal(ev)
}
