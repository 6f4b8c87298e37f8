package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alfredjeanlab/relay/internal/hub"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
	"github.com/alfredjeanlab/relay/internal/token"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

// precheck validates the channel request before any upgrade so failures
// can be reported as plain HTTP statuses: 401 for a bad token, 403 for a
// token scoped to another entity or a subject without access, 404 for an
// unknown entity.
func (s *Server) precheck(r *http.Request) (model.EntityKey, string, int, error) {
	entity := model.EntityKey{Kind: model.EntityKind(r.PathValue("kind")), ID: r.PathValue("id")}
	if !entity.Kind.IsValid() || entity.ID == "" {
		return entity, "", http.StatusNotFound, fmt.Errorf("unknown entity kind %q", entity.Kind)
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		return entity, "", http.StatusUnauthorized, errors.New("missing token")
	}
	claims, err := s.tokens.VerifyFor(tok, entity)
	switch {
	case errors.Is(err, token.ErrEntityMismatch):
		return entity, "", http.StatusForbidden, err
	case err != nil:
		return entity, "", http.StatusUnauthorized, err
	}

	ok, err := s.store.CanAccess(r.Context(), claims.Subject, entity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return entity, "", http.StatusNotFound, fmt.Errorf("%s not found", entity.Kind)
	case err != nil:
		s.logger.Error("channel access check failed", "entity", entity.String(), "error", err)
		return entity, "", http.StatusInternalServerError, errors.New("internal error")
	case !ok:
		return entity, "", http.StatusForbidden, errForbidden
	}
	return entity, tok, 0, nil
}

// handleConnect handles GET /v1/connect/{kind}/{id} (WebSocket upgrade).
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	entity, tok, code, err := s.precheck(r)
	if err != nil {
		writeError(w, code, err.Error())
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "entity", entity.String(), "error", err)
		return
	}
	ws.SetReadLimit(wsMaxFrame)

	tr := &wsTransport{ws: ws}
	ctx := context.WithoutCancel(r.Context())
	ack, err := s.hub.Admit(ctx, entity, tr, tok)
	if err != nil {
		// Admit already closed the transport on token failure; this
		// covers a closed hub.
		_ = tr.Close(hub.CloseGoingAway, err.Error())
		return
	}
	defer s.hub.Remove(ctx, entity, tr)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientFrame(ctx, entity, tr, ack.UserID, ack.Role, data)
	}
}

// handleClientFrame processes one inbound frame. Unknown types are ignored.
func (s *Server) handleClientFrame(ctx context.Context, entity model.EntityKey, tr *wsTransport, userID string, role model.Role, data []byte) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Debug("ignoring malformed client frame", "entity", entity.String(), "error", err)
		return
	}
	if s.Presence != nil {
		s.Presence.Touch(userID)
	}

	switch ev.Type {
	case model.EventPing:
		if err := s.hub.Ping(ctx, entity, tr); err != nil {
			s.logger.Debug("ping failed", "entity", entity.String(), "error", err)
		}
	case model.EventTyping:
		if entity.Kind == model.EntityConversation {
			s.fanout.Typing(ctx, entity.ID, &model.Actor{UserID: userID, Role: role})
		}
	}
}

// handleStream handles GET /v1/stream/{kind}/{id} (receive-only SSE).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	entity, tok, code, err := s.precheck(r)
	if err != nil {
		writeError(w, code, err.Error())
		return
	}

	tr := newSSETransport()
	ctx := r.Context()
	if _, err := s.hub.Admit(ctx, entity, tr, tok); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	defer s.hub.Remove(context.WithoutCancel(ctx), entity, tr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := s.clock.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.done:
			fmt.Fprintf(w, "event:close\ndata:{\"code\":%d}\n\n", tr.closeCode())
			flusher.Flush()
			return
		case frame := <-tr.frames:
			writeSSEFrame(w, frame)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEFrame writes one channel frame as an SSE event. Broadcast
// frames use their entity sequence as the event ID.
func writeSSEFrame(w http.ResponseWriter, frame []byte) {
	var head struct {
		Type     model.EventType `json:"type"`
		Sequence uint64          `json:"sequence"`
	}
	_ = json.Unmarshal(frame, &head)
	if head.Sequence > 0 {
		fmt.Fprintf(w, "id:%d\n", head.Sequence)
	}
	fmt.Fprintf(w, "event:%s\n", head.Type)
	fmt.Fprintf(w, "data:%s\n\n", frame)
}
