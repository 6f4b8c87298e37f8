package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

type issueTokenInput struct {
	EntityKind model.EntityKind `json:"entity_kind"`
	EntityID   string           `json:"entity_id"`
}

type issueTokenOutput struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken handles POST /v1/tokens.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "user")
		return
	}

	var in issueTokenInput
	if err := decodeBody(r, &in); err != nil {
		s.writeStoreError(w, err, "token")
		return
	}
	if !in.EntityKind.IsValid() || in.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_kind and entity_id are required")
		return
	}

	entity := model.EntityKey{Kind: in.EntityKind, ID: in.EntityID}
	tok, claims, err := s.tokens.Issue(r.Context(), actor.UserID, entity, actor.Role)
	if err != nil {
		s.writeStoreError(w, err, string(entity.Kind))
		return
	}
	writeJSON(w, http.StatusCreated, issueTokenOutput{Token: tok, ExpiresAt: claims.Expiry()})
}
