// Package server exposes the relay over HTTP, WebSocket, SSE and gRPC.
//
// HTTP handlers perform their storage write first and hand the committed
// result to the fan-out; a fan-out failure never changes the response.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/relay/internal/clock"
	"github.com/alfredjeanlab/relay/internal/fanout"
	"github.com/alfredjeanlab/relay/internal/hub"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/presence"
	"github.com/alfredjeanlab/relay/internal/routing"
	"github.com/alfredjeanlab/relay/internal/store"
	"github.com/alfredjeanlab/relay/internal/token"
)

// UserHeader carries the authenticated user ID set by the gateway in front
// of the relay.
const UserHeader = "X-User-ID"

// Options configures optional server behaviour.
type Options struct {
	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty
	// or ["*"] allows any origin.
	AllowedOrigins []string
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Server wires the relay components to the network.
type Server struct {
	store    store.Store
	tokens   *token.Service
	hub      *hub.Hub
	fanout   *fanout.Fanout
	router   *routing.Router
	Presence *presence.Tracker

	upgrader websocket.Upgrader
	clock    clock.Clock
	logger   *slog.Logger
}

// New returns a Server.
func New(s store.Store, tokens *token.Service, h *hub.Hub, f *fanout.Fanout, r *routing.Router, p *presence.Tracker, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		store:    s,
		tokens:   tokens,
		hub:      h,
		fanout:   f,
		router:   r,
		Presence: p,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "server"),
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// userFrom returns the authenticated user ID, or "".
func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// actor resolves the caller's role for event attribution.
func (s *Server) actor(ctx context.Context) (*model.Actor, error) {
	userID := userFrom(ctx)
	if userID == "" {
		return nil, errUnauthenticated
	}
	role, err := s.store.GetUserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errUnauthenticated
		}
		return nil, err
	}
	return &model.Actor{UserID: userID, Role: role}, nil
}

// authorize checks that the caller may act on entity.
func (s *Server) authorize(ctx context.Context, userID string, entity model.EntityKey) error {
	ok, err := s.store.CanAccess(ctx, userID, entity)
	if err != nil {
		return err
	}
	if !ok {
		return errForbidden
	}
	return nil
}

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("not authorized for this entity")
)

// writeStoreError maps domain and storage errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, what string) {
	var (
		ie inputError
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, errUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errForbidden), errors.Is(err, token.ErrUnauthorized):
		writeError(w, http.StatusForbidden, errForbidden.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, token.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	default:
		s.logger.Error("request failed", "what", what, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
