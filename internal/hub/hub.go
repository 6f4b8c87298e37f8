// Package hub owns the live connections for every broadcast entity.
//
// Each entity key (conversation, cart or user) is served by exactly one
// actor goroutine at a time. The actor is the only code that touches its
// connection set and sequence counter, so admission, broadcast and removal
// for one entity are totally ordered without any lock spanning entities.
// The registry mutex guards only the key to actor map.
//
// Actors are created lazily by the first Admit or Broadcast and retire
// themselves once they have had no connections and no traffic for the idle
// timeout.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/token"
)

// WebSocket close codes used when the hub terminates a transport.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseInvalidToken   = 4401
	CloseEntityMismatch = 4403
	CloseSlowConsumer   = 4408
)

// Defaults for Config.
const (
	DefaultIdleTimeout  = 2 * time.Minute
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("hub: closed")
	// ErrNotConnected is returned by Ping for a transport the actor does
	// not hold.
	ErrNotConnected = errors.New("hub: transport not connected")
)

// Transport is one client connection. Implementations must be comparable
// (pointer types); the hub keys connections by transport identity.
type Transport interface {
	// Send writes one encoded frame. Only the connection's writer
	// goroutine calls Send.
	Send(ctx context.Context, frame []byte) error
	// Close terminates the transport with a close code. It may be called
	// more than once.
	Close(code int, reason string) error
}

// Ack describes an admitted connection.
type Ack struct {
	ConnectionID string          `json:"connection_id"`
	Entity       model.EntityKey `json:"entity"`
	UserID       string          `json:"user_id"`
	Role         model.Role      `json:"role"`
	ConnectedAt  time.Time       `json:"connected_at"`
}

// Stats is a point-in-time count of live actors and connections.
type Stats struct {
	Actors      int   `json:"actors"`
	Connections int64 `json:"connections"`
}

// Config tunes a Hub. Zero values take the defaults.
type Config struct {
	IdleTimeout  time.Duration
	QueueSize    int
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Hub is the registry of entity actors.
type Hub struct {
	verifier token.Verifier
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	actors map[model.EntityKey]*actor
	closed bool

	connections atomic.Int64
	wg          sync.WaitGroup
}

// New creates a hub that verifies admission tokens with verifier.
func New(verifier token.Verifier, cfg Config) *Hub {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		verifier: verifier,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "hub"),
		actors:   make(map[model.EntityKey]*actor),
	}
}

// Admit verifies tok for entity and adds tr to the entity's connection
// set. Admitting a transport that is already connected returns the
// original Ack. On verification failure the transport is closed with
// CloseInvalidToken or CloseEntityMismatch, nothing is added and no actor
// is created.
func (h *Hub) Admit(ctx context.Context, entity model.EntityKey, tr Transport, tok string) (*Ack, error) {
	claims, err := h.verifier.VerifyFor(tok, entity)
	if err != nil {
		h.logger.Info("admission rejected", "entity", entity.String(), "error", err)
		code := CloseInvalidToken
		if errors.Is(err, token.ErrEntityMismatch) {
			code = CloseEntityMismatch
		}
		_ = tr.Close(code, err.Error())
		return nil, err
	}

	var ack *Ack
	if err := h.do(ctx, entity, true, func(a *actor) {
		ack = a.admit(tr, claims)
	}); err != nil {
		return nil, err
	}
	return ack, nil
}

// Broadcast assigns the next sequence number for entity and queues the
// event on every connection. payload must already be valid JSON (or nil).
// It returns the assigned sequence.
func (h *Hub) Broadcast(ctx context.Context, entity model.EntityKey, typ model.EventType, payload json.RawMessage, by *model.Actor) (uint64, error) {
	var (
		seq uint64
		err error
	)
	if doErr := h.do(ctx, entity, true, func(a *actor) {
		seq, err = a.broadcast(typ, payload, by)
	}); doErr != nil {
		return 0, doErr
	}
	return seq, err
}

// Remove drops tr from entity's connection set and closes it with
// CloseNormal. Removing an unknown transport is a no-op.
func (h *Hub) Remove(ctx context.Context, entity model.EntityKey, tr Transport) {
	h.removeWithCode(ctx, entity, tr, CloseNormal, "connection closed")
}

func (h *Hub) removeWithCode(ctx context.Context, entity model.EntityKey, tr Transport, code int, reason string) {
	_ = h.do(ctx, entity, false, func(a *actor) {
		a.remove(tr, code, reason)
	})
}

// Ping queues a pong frame for tr only.
func (h *Hub) Ping(ctx context.Context, entity model.EntityKey, tr Transport) error {
	var err error
	if doErr := h.do(ctx, entity, false, func(a *actor) {
		err = a.ping(tr)
	}); doErr != nil {
		if errors.Is(doErr, errNoActor) {
			return ErrNotConnected
		}
		return doErr
	}
	return err
}

// Stats returns the current actor and connection counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.actors)
	h.mu.Unlock()
	return Stats{Actors: n, Connections: h.connections.Load()}
}

// Close stops every actor, closing all transports with CloseGoingAway,
// and waits for the actors to exit. Later calls return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	actors := make([]*actor, 0, len(h.actors))
	for _, a := range h.actors {
		actors = append(actors, a)
	}
	h.mu.Unlock()

	for _, a := range actors {
		close(a.stop)
	}
	h.wg.Wait()
	h.logger.Info("hub closed", "actors", len(actors))
}

var errNoActor = errors.New("hub: no actor")

// do runs fn on the actor for entity and waits for it to finish. When
// create is false and no actor exists, it returns errNoActor. A send that
// races with the actor retiring is retried against a fresh lookup, so fn
// always runs exactly once on a live actor.
func (h *Hub) do(ctx context.Context, entity model.EntityKey, create bool, fn func(*actor)) error {
	for {
		a, err := h.lookup(entity, create)
		if err != nil {
			return err
		}
		done := make(chan struct{})
		select {
		case a.ops <- func() { fn(a); a.resetIdle(); close(done) }:
			<-done
			return nil
		case <-a.retired:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) lookup(entity model.EntityKey, create bool) (*actor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if a, ok := h.actors[entity]; ok {
		return a, nil
	}
	if !create {
		return nil, errNoActor
	}
	a := newActor(h, entity)
	h.actors[entity] = a
	h.wg.Add(1)
	go a.run()
	return a, nil
}

// retire removes a from the registry if it is still the registered actor.
func (h *Hub) retire(a *actor) {
	h.mu.Lock()
	if h.actors[a.key] == a {
		delete(h.actors, a.key)
	}
	h.mu.Unlock()
}
