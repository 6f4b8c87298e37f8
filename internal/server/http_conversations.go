package server

import (
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// conversationActor authenticates the caller and checks participation in
// the conversation named by the {id} path value.
func (s *Server) conversationActor(r *http.Request) (*model.Actor, string, error) {
	actor, err := s.actor(r.Context())
	if err != nil {
		return nil, "", err
	}
	id := r.PathValue("id")
	entity := model.EntityKey{Kind: model.EntityConversation, ID: id}
	if err := s.authorize(r.Context(), actor.UserID, entity); err != nil {
		return nil, "", err
	}
	return actor, id, nil
}

// handleListMessages handles GET /v1/conversations/{id}/messages. It is
// the polling fallback for clients without a live channel.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	_, id, err := s.conversationActor(r)
	if err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxMessageLimit)
		}
	}

	msgs, err := s.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type createMessageInput struct {
	Body string `json:"body"`
}

// handleCreateMessage handles POST /v1/conversations/{id}/messages.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	actor, id, err := s.conversationActor(r)
	if err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}

	var in createMessageInput
	if err := decodeBody(r, &in); err != nil {
		s.writeStoreError(w, err, "message")
		return
	}

	msgID, err := idgen.Message()
	if err != nil {
		s.writeStoreError(w, err, "message")
		return
	}
	msg := &model.Message{
		ID:             msgID,
		ConversationID: id,
		SenderID:       actor.UserID,
		SenderRole:     actor.Role,
		Body:           in.Body,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := model.ValidateMessage(msg); err != nil {
		s.writeStoreError(w, err, "message")
		return
	}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}

	s.fanout.MessageCreated(r.Context(), msg, actor)
	writeJSON(w, http.StatusCreated, msg)
}

// handleMarkRead handles POST /v1/conversations/{id}/read.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, id, err := s.conversationActor(r)
	if err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}

	now := s.clock.Now().UTC()
	if err := s.store.MarkRead(r.Context(), id, actor.UserID, now); err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}

	s.fanout.ConversationRead(r.Context(), id, actor, now)
	writeJSON(w, http.StatusOK, model.ReadPayload{ConversationID: id, UserID: actor.UserID, ReadAt: now})
}

// handleTyping handles POST /v1/conversations/{id}/typing. Nothing is
// stored.
func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	actor, id, err := s.conversationActor(r)
	if err != nil {
		s.writeStoreError(w, err, "conversation")
		return
	}
	s.fanout.Typing(r.Context(), id, actor)
	w.WriteHeader(http.StatusNoContent)
}

// handleUnreadCount handles GET /v1/unread.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if userID == "" {
		s.writeStoreError(w, errUnauthenticated, "user")
		return
	}
	n, err := s.store.UnreadConversationCount(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, model.UnreadCountPayload{Count: n})
}
