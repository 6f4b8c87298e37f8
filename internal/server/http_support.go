package server

import (
	"errors"
	"net/http"

	"github.com/alfredjeanlab/relay/internal/routing"
)

// Route outcomes.
const (
	outcomeRouted            = "routed"
	outcomeNoAgentsAvailable = "no_agents_available"
)

type routeInput struct {
	Summary string `json:"summary"`
}

type routeOutput struct {
	Outcome string `json:"outcome"`
	*routing.Result
}

// handleRoute handles POST /v1/support/route. No online agent is a normal
// 200 response with outcome "no_agents_available".
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if userID == "" {
		s.writeStoreError(w, errUnauthenticated, "user")
		return
	}

	var in routeInput
	if err := decodeBody(r, &in); err != nil {
		s.writeStoreError(w, err, "request")
		return
	}

	res, err := s.router.Route(r.Context(), userID, in.Summary)
	switch {
	case errors.Is(err, routing.ErrNoAgentsAvailable):
		writeJSON(w, http.StatusOK, routeOutput{Outcome: outcomeNoAgentsAvailable})
	case errors.Is(err, routing.ErrEmptySummary):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.writeStoreError(w, err, "user")
	default:
		writeJSON(w, http.StatusOK, routeOutput{Outcome: outcomeRouted, Result: res})
	}
}
