package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// handleOnlineAgents handles GET /v1/agents/online.
// Returns agents active within the presence threshold, most recent first.
func (s *Server) handleOnlineAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "agents")
		return
	}
	online := s.Presence.Online(r.Context(), agents)
	if online == nil {
		online = []*model.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": online})
}

// handlePresenceRoster handles GET /v1/presence.
// Returns this node's in-memory presence roster.
func (s *Server) handlePresenceRoster(w http.ResponseWriter, r *http.Request) {
	// Parse optional stale_threshold_secs query param (default: 30 min).
	staleThreshold := 30 * time.Minute
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			staleThreshold = time.Duration(secs) * time.Second
		}
	}

	entries := s.Presence.Roster(staleThreshold)
	writeJSON(w, http.StatusOK, map[string]any{
		"users":     entries,
		"threshold": s.Presence.Threshold().String(),
	})
}
